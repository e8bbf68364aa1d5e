package training

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/telemetry"
)

// Features is the classifier input order. It is persisted with the model and
// read back verbatim; nothing re-derives it at prediction time.
var Features = []string{
	domain.ColCountry,
	domain.ColYear,
	domain.ColAttackType,
	domain.ColTargetIndustry,
	domain.ColFinancialLoss,
	domain.ColAffectedUsers,
	domain.ColAttackSource,
	domain.ColVulnerabilityType,
	domain.ColDefenseMechanism,
	domain.ColResolutionHours,
}

// FitVocabulary returns the sorted distinct values; a value's position is
// its encoding.
func FitVocabulary(values []string) domain.Vocabulary {
	vocab := slices.Clone(values)
	slices.Sort(vocab)
	return domain.Vocabulary(slices.Compact(vocab))
}

// Encoder turns raw incidents into feature vectors using frozen
// vocabularies.
type Encoder struct {
	vocabs   map[string]domain.Vocabulary
	index    map[string]map[string]int
	features []string
	policy   domain.UnseenPolicy
}

// NewEncoder builds an encoder over persisted metadata.
func NewEncoder(meta *domain.ModelMetadata, policy domain.UnseenPolicy) (*Encoder, error) {
	if policy == "" {
		policy = domain.UnseenFallback
	}
	e := &Encoder{
		vocabs:   meta.LabelEncoders,
		index:    make(map[string]map[string]int, len(meta.LabelEncoders)),
		features: slices.Clone(meta.Features),
		policy:   policy,
	}

	var probe domain.RawIncident
	for _, col := range e.features {
		if _, ok := probe.Numeric(col); ok {
			continue
		}
		if _, ok := probe.Categorical(col); !ok {
			return nil, fmt.Errorf("unknown model feature %q", col)
		}
		vocab := meta.LabelEncoders[col]
		if len(vocab) == 0 {
			return nil, fmt.Errorf("no vocabulary for categorical feature %q", col)
		}
		idx := make(map[string]int, len(vocab))
		for i, v := range vocab {
			idx[v] = i
		}
		e.index[col] = idx
	}
	return e, nil
}

// Features returns the feature order the encoder emits.
func (e *Encoder) Features() []string { return e.features }

// Encode assembles the feature vector of r in persisted order. Missing
// numerics encode as 0 and missing categoricals as "Unknown". Categorical values outside the vocabulary follow the
// unseen policy; under fallback they take index 0 and their column is
// returned in fallbacks.
func (e *Encoder) Encode(r *domain.RawIncident) (vec []float64, fallbacks []string, err error) {
	vec = make([]float64, len(e.features))
	for i, col := range e.features {
		if n, ok := r.Numeric(col); ok {
			if n.Valid {
				vec[i] = n.Value
			}
			continue
		}

		value, _ := r.Categorical(col)
		if value == "" {
			value = domain.UnknownCategory
		}
		code, known := e.index[col][value]
		if !known {
			telemetry.UnseenCategories.WithLabelValues(col, string(e.policy)).Inc()
			if e.policy == domain.UnseenStrict {
				return nil, nil, fmt.Errorf("%s %q: %w", col, value, domain.ErrUnseenCategory)
			}
			code = 0
			fallbacks = append(fallbacks, col)
		}
		vec[i] = float64(code)
	}
	return vec, fallbacks, nil
}
