// Package predict serves severity predictions from the persisted classifier.
package predict

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/forest"
	"github.com/opensource-finance/threatlens/internal/telemetry"
	"github.com/opensource-finance/threatlens/internal/training"
)

var tracer = otel.Tracer("threatlens/predict")

// Result is the outcome of one prediction.
type Result struct {
	Label         domain.SeverityLabel `json:"label"`
	Probabilities map[string]float64   `json:"probabilities"`
	// Fallbacks lists the columns whose unseen value was encoded as index 0.
	Fallbacks []string `json:"fallbacks,omitempty"`
	// Error is set instead of Label when a batch row could not be predicted.
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Predictor is immutable after Load and safe for concurrent use.
type Predictor struct {
	model    *forest.Forest
	meta     *domain.ModelMetadata
	enc      *training.Encoder
	severity domain.Vocabulary
	workers  int
}

// Load reads the metadata and the classifier from store. Either one missing
// yields an error wrapping domain.ErrModelNotFound.
func Load(ctx context.Context, store *artifact.Store, policy domain.UnseenPolicy) (*Predictor, error) {
	_, span := tracer.Start(ctx, "predict.Load")
	defer span.End()

	meta, err := store.LoadMetadata()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var model forest.Forest
	if err := store.LoadModel(&model); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return New(&model, meta, policy)
}

// New builds a predictor from an in-memory model and its metadata.
func New(model *forest.Forest, meta *domain.ModelMetadata, policy domain.UnseenPolicy) (*Predictor, error) {
	enc, err := training.NewEncoder(meta, policy)
	if err != nil {
		return nil, err
	}
	severity := meta.SeverityVocabulary()
	if len(severity) == 0 {
		return nil, fmt.Errorf("metadata has no %s vocabulary", domain.ColSeverity)
	}
	if model.Classes != len(severity) {
		return nil, fmt.Errorf("model has %d classes, %s vocabulary has %d", model.Classes, domain.ColSeverity, len(severity))
	}
	if model.Features != len(meta.Features) {
		return nil, fmt.Errorf("model expects %d features, metadata lists %d", model.Features, len(meta.Features))
	}
	return &Predictor{
		model:    model,
		meta:     meta,
		enc:      enc,
		severity: severity,
		workers:  runtime.GOMAXPROCS(0),
	}, nil
}

// Metadata returns the persisted vocabularies and feature order.
func (p *Predictor) Metadata() *domain.ModelMetadata {
	return p.meta
}

// Predict classifies one incident.
func (p *Predictor) Predict(ctx context.Context, r domain.RawIncident) (Result, error) {
	vec, fallbacks, err := p.enc.Encode(&r)
	if err != nil {
		return Result{}, err
	}
	if err := p.model.Validate(vec); err != nil {
		return Result{}, err
	}

	proba := p.model.PredictProba(vec)
	res := Result{
		Label:         domain.SeverityLabel(p.severity[forest.Argmax(proba)]),
		Probabilities: make(map[string]float64, len(proba)),
		Fallbacks:     fallbacks,
	}
	for i, v := range proba {
		res.Probabilities[p.severity[i]] = v
	}
	telemetry.Predictions.WithLabelValues(string(res.Label)).Inc()
	return res, nil
}

// PredictBatch classifies rows independently and in parallel. A row that
// cannot be predicted carries its error in Result.Error; only cancellation
// fails the batch.
func (p *Predictor) PredictBatch(ctx context.Context, rows []domain.RawIncident) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "predict.PredictBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(rows)))

	results := make([]Result, len(rows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range rows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Predict(ctx, rows[i])
			if err != nil {
				res = Result{Error: err.Error(), Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// AnnotateCSV reads an incident table from in and writes it to out with a
// Predicted Severity column appended, or replaced when already present. It
// returns the number of annotated rows. Any row that cannot be predicted
// fails the whole table.
func (p *Predictor) AnnotateCSV(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	names, records, rows, err := dataset.DecodeRawRecords(in)
	if err != nil {
		return 0, err
	}
	results, err := p.PredictBatch(ctx, rows)
	if err != nil {
		return 0, err
	}

	col := slices.Index(names, domain.ColPredictedSeverity)
	if col < 0 {
		col = len(names)
		names = append(slices.Clone(names), domain.ColPredictedSeverity)
	}
	for i, res := range results {
		if res.Err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, res.Err)
		}
		rec := records[i]
		for len(rec) <= col {
			rec = append(rec, "")
		}
		rec[col] = string(res.Label)
		records[i] = rec
	}
	if err := dataset.EncodeTable(out, names, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
