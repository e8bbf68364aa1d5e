package predict

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/domain"
)

// Provider loads the predictor on first use and keeps it until Invalidate.
// A failed load is not memoized, so training later makes it available.
type Provider struct {
	store  *artifact.Store
	policy domain.UnseenPolicy

	mu      sync.Mutex
	current *Predictor
}

// NewProvider creates a provider over store.
func NewProvider(store *artifact.Store, policy domain.UnseenPolicy) *Provider {
	return &Provider{store: store, policy: policy}
}

// Get returns the memoized predictor, loading it if needed.
func (p *Provider) Get(ctx context.Context) (*Predictor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return p.current, nil
	}
	pred, err := Load(ctx, p.store, p.policy)
	if err != nil {
		return nil, err
	}
	p.current = pred
	slog.Info("predictor loaded",
		"run_id", pred.meta.RunID,
		"features", len(pred.meta.Features),
		"policy", string(p.policy),
	)
	return pred, nil
}

// Invalidate drops the memoized predictor; the next Get reloads from disk.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

// Policy returns the unseen-category policy predictors are loaded with.
func (p *Provider) Policy() domain.UnseenPolicy {
	return p.policy
}
