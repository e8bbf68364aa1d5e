package training

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
)

func TestQuantile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	assert.InDelta(t, 1.99, Quantile(values, 0.33), 1e-12)
	assert.InDelta(t, 2.98, Quantile(values, 0.66), 1e-12)
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 4.0, Quantile(values, 1))
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.5))
	assert.True(t, Quantile(nil, 0.5) != Quantile(nil, 0.5), "empty input is NaN")
}

func TestLabelByQuantiles(t *testing.T) {
	users := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	th, labels := LabelByQuantiles(users)

	assert.InDelta(t, 39.7, th.Q33, 1e-9)
	assert.InDelta(t, 69.4, th.Q66, 1e-9)
	assert.Equal(t, []domain.SeverityLabel{
		"Low", "Low", "Low",
		"Medium", "Medium", "Medium",
		"High", "High", "High", "High",
	}, labels)

	t.Run("RightInclusive", func(t *testing.T) {
		th := domain.Thresholds{Q33: 10, Q66: 20}
		assert.Equal(t, domain.LabelLow, Label(10, th))
		assert.Equal(t, domain.LabelMedium, Label(10.5, th))
		assert.Equal(t, domain.LabelMedium, Label(20, th))
		assert.Equal(t, domain.LabelHigh, Label(20.01, th))
	})

	t.Run("OrderPreserving", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(9, 9))
		users := make([]float64, 500)
		for i := range users {
			users[i] = float64(rng.IntN(1_000_000))
		}
		_, labels := LabelByQuantiles(users)
		for i := range users {
			for j := range users {
				if users[i] > users[j] {
					assert.GreaterOrEqual(t, labels[i].Rank(), labels[j].Rank())
				}
			}
		}
	})
}

func TestFitVocabulary(t *testing.T) {
	vocab := FitVocabulary([]string{"Medium", "High", "Low", "High", "Low"})
	assert.Equal(t, domain.Vocabulary{"High", "Low", "Medium"}, vocab)

	idx, ok := vocab.Index("Low")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestEncoder(t *testing.T) {
	meta := &domain.ModelMetadata{
		LabelEncoders: map[string]domain.Vocabulary{
			domain.ColCountry:    {"China", "India", "Unknown"},
			domain.ColAttackType: {"DDoS", "Phishing"},
		},
		Features: []string{domain.ColAffectedUsers, domain.ColCountry, domain.ColAttackType, domain.ColYear},
	}
	raw := domain.RawIncident{
		Country:       "India",
		AttackType:    "Phishing",
		AffectedUsers: domain.Num(5200),
	}

	t.Run("PersistedOrder", func(t *testing.T) {
		enc, err := NewEncoder(meta, domain.UnseenFallback)
		require.NoError(t, err)

		vec, fallbacks, err := enc.Encode(&raw)
		require.NoError(t, err)
		assert.Equal(t, []float64{5200, 1, 1, 0}, vec, "missing Year encodes as 0")
		assert.Empty(t, fallbacks)
	})

	t.Run("MissingCategoricalIsUnknown", func(t *testing.T) {
		enc, err := NewEncoder(meta, domain.UnseenStrict)
		require.NoError(t, err)

		r := raw
		r.Country = ""
		vec, _, err := enc.Encode(&r)
		require.NoError(t, err)
		assert.Equal(t, 2.0, vec[1])
	})

	t.Run("UnseenFallback", func(t *testing.T) {
		enc, err := NewEncoder(meta, domain.UnseenFallback)
		require.NoError(t, err)

		r := raw
		r.Country = "Atlantis"
		vec, fallbacks, err := enc.Encode(&r)
		require.NoError(t, err)
		assert.Equal(t, 0.0, vec[1])
		assert.Equal(t, []string{domain.ColCountry}, fallbacks)
	})

	t.Run("UnseenStrict", func(t *testing.T) {
		enc, err := NewEncoder(meta, domain.UnseenStrict)
		require.NoError(t, err)

		r := raw
		r.AttackType = "Alien Probe"
		_, _, err = enc.Encode(&r)
		assert.ErrorIs(t, err, domain.ErrUnseenCategory)
	})

	t.Run("UnknownFeature", func(t *testing.T) {
		bad := *meta
		bad.Features = []string{"Shoe Size"}
		_, err := NewEncoder(&bad, domain.UnseenFallback)
		assert.Error(t, err)
	})
}

func TestStratifiedSplit(t *testing.T) {
	labels := make([]int, 0, 100)
	for i := 0; i < 50; i++ {
		labels = append(labels, 0)
	}
	for i := 0; i < 30; i++ {
		labels = append(labels, 1)
	}
	for i := 0; i < 20; i++ {
		labels = append(labels, 2)
	}

	train, test, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	counts := map[int]int{}
	seen := map[int]bool{}
	for _, i := range test {
		counts[labels[i]]++
		seen[i] = true
	}
	assert.Equal(t, map[int]int{0: 10, 1: 6, 2: 4}, counts)
	for _, i := range train {
		assert.False(t, seen[i], "index %d in both sets", i)
	}

	again, againTest, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, train, again)
	assert.Equal(t, test, againTest)

	_, _, err = StratifiedSplit([]int{0}, 0.2, 42)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestClassificationReport(t *testing.T) {
	vocab := domain.Vocabulary{"High", "Low", "Medium"}
	yTrue := []int{0, 0, 1, 1, 2, 2}
	yPred := []int{0, 1, 1, 1, 2, 0}

	rep := ClassificationReport(yTrue, yPred, vocab)
	require.Len(t, rep.Classes, 3)
	assert.InDelta(t, 4.0/6.0, rep.Accuracy, 1e-12)

	high := rep.Classes[0]
	assert.Equal(t, "High", high.Label)
	assert.InDelta(t, 0.5, high.Precision, 1e-12)
	assert.InDelta(t, 0.5, high.Recall, 1e-12)
	assert.Equal(t, 2, high.Support)

	low := rep.Classes[1]
	assert.InDelta(t, 2.0/3.0, low.Precision, 1e-12)
	assert.InDelta(t, 1.0, low.Recall, 1e-12)
	assert.InDelta(t, 0.8, low.F1, 1e-12)

	assert.Equal(t, 6, rep.WeightedAvg.Support)
	assert.Contains(t, FormatReport(rep), "weighted avg")
}

type memRepo struct {
	domain.Repository
	runs []*domain.TrainingRun
}

func (r *memRepo) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	r.runs = append(r.runs, run)
	return nil
}

// processedRows builds a dataset whose label is learnable from affected
// users alone.
func processedRows(n int) []domain.ProcessedIncident {
	rng := rand.New(rand.NewPCG(11, 11))
	countries := []string{"India", "China", "UK", "USA"}
	attacks := []string{"Phishing", "Ransomware", "DDoS"}

	rows := make([]domain.ProcessedIncident, n)
	for i := range rows {
		rows[i] = domain.ProcessedIncident{
			ScoredIncident: domain.ScoredIncident{
				Incident: domain.Incident{
					Country:           countries[rng.IntN(len(countries))],
					Year:              float64(2015 + rng.IntN(10)),
					AttackType:        attacks[rng.IntN(len(attacks))],
					TargetIndustry:    "Finance",
					FinancialLoss:     rng.Float64() * 100,
					AffectedUsers:     float64(rng.IntN(1_000_000)),
					AttackSource:      "Hacker Group",
					VulnerabilityType: "Zero-day",
					DefenseMechanism:  "Firewall",
					ResolutionHours:   float64(1 + rng.IntN(72)),
				},
			},
			Tier: domain.TierLow,
		}
	}
	return rows
}

func testConfig() domain.TrainingConfig {
	return domain.TrainingConfig{
		Trees:           20,
		MaxDepth:        10,
		MinSamplesSplit: 4,
		TestFraction:    0.2,
		Seed:            42,
	}
}

func TestTrainerRun(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewStore(t.TempDir())
	require.NoError(t, dataset.WriteProcessed(store.ProcessedPath(), processedRows(150)))

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	events := make(chan *domain.Message, 1)
	_, err := eventBus.Subscribe(ctx, domain.TopicModelTrained, func(ctx context.Context, msg *domain.Message) error {
		events <- msg
		return nil
	})
	require.NoError(t, err)

	repo := &memRepo{}
	trainer := NewTrainer(store, testConfig(), repo, eventBus)
	hooked := 0
	trainer.OnTrained(func(ctx context.Context) { hooked++ })

	run, err := trainer.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 150, run.Rows)
	assert.Equal(t, 30, run.TestRows)
	assert.Equal(t, 120, run.TrainRows)
	assert.Greater(t, run.Report.Accuracy, 0.7, "label is a function of affected users")
	assert.Len(t, run.FeatureImportances, len(Features))
	assert.Equal(t, 1, hooked)
	require.Len(t, repo.runs, 1)
	assert.Equal(t, run.ID, repo.runs[0].ID)

	meta, err := store.LoadMetadata()
	require.NoError(t, err)
	assert.Equal(t, Features, meta.Features)
	assert.Equal(t, domain.Vocabulary{"High", "Low", "Medium"}, meta.SeverityVocabulary())
	assert.Equal(t, domain.Vocabulary{"China", "India", "UK", "USA"}, meta.LabelEncoders[domain.ColCountry])
	assert.Equal(t, run.ID, meta.RunID)

	header, records, err := dataset.ReadTable(store.EncodedPath())
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedColumns, header)
	assert.Len(t, records, 150)

	select {
	case msg := <-events:
		var ev domain.ModelTrainedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, run.ID, ev.RunID)
	case <-time.After(time.Second):
		t.Fatal("model trained event not published")
	}
}

func TestTrainerDeterministic(t *testing.T) {
	ctx := context.Background()
	rows := processedRows(90)

	reports := make([]domain.ClassificationReport, 2)
	for i := range reports {
		store := artifact.NewStore(t.TempDir())
		require.NoError(t, dataset.WriteProcessed(store.ProcessedPath(), rows))
		cfg := testConfig()
		cfg.Workers = i*3 + 1
		run, err := NewTrainer(store, cfg, nil, nil).Run(ctx)
		require.NoError(t, err)
		reports[i] = run.Report
	}
	assert.Equal(t, reports[0], reports[1])
}

func TestTrainerEmptyDataset(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	require.NoError(t, dataset.WriteProcessed(store.ProcessedPath(), nil))

	_, err := NewTrainer(store, testConfig(), nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrEmptyTrainingSet)

	_, statErr := os.Stat(store.ModelPath())
	assert.True(t, os.IsNotExist(statErr), "no model written")
	_, statErr = os.Stat(store.MetadataPath())
	assert.True(t, os.IsNotExist(statErr), "no metadata written")
}

func TestTrainerMissingDataset(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	_, err := NewTrainer(store, testConfig(), nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrDatasetNotFound)
}
