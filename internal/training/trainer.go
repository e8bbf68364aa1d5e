package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/forest"
	"github.com/opensource-finance/threatlens/internal/telemetry"
)

var tracer = otel.Tracer("threatlens/training")

// Trainer fits and persists the severity classifier.
type Trainer struct {
	store  *artifact.Store
	cfg    domain.TrainingConfig
	repo   domain.Repository
	bus    domain.EventBus
	hooks  []func(ctx context.Context)
	now    func() time.Time
	params forest.Params
}

// NewTrainer creates a trainer. repo and eventBus may be nil.
func NewTrainer(store *artifact.Store, cfg domain.TrainingConfig, repo domain.Repository, eventBus domain.EventBus) *Trainer {
	return &Trainer{
		store: store,
		cfg:   cfg,
		repo:  repo,
		bus:   eventBus,
		now:   time.Now,
		params: forest.Params{
			Trees:           cfg.Trees,
			MaxDepth:        cfg.MaxDepth,
			MinSamplesSplit: cfg.MinSamplesSplit,
			Seed:            cfg.Seed,
			Workers:         cfg.Workers,
		},
	}
}

// OnTrained registers a callback run after new artifacts are in place, such
// as dropping a memoized predictor.
func (t *Trainer) OnTrained(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// Prepared is the labelled and encoded training table.
type Prepared struct {
	Rows       []domain.ProcessedIncident
	X          [][]float64
	Y          []int
	Labels     []domain.SeverityLabel
	Thresholds domain.Thresholds
	Metadata   *domain.ModelMetadata
}

// Prepare labels rows by affected-users quantiles, fits the vocabularies and
// encodes every row in Features order.
func Prepare(rows []domain.ProcessedIncident) (*Prepared, error) {
	if len(rows) == 0 {
		return nil, domain.ErrEmptyTrainingSet
	}

	users := make([]float64, len(rows))
	for i := range rows {
		users[i] = rows[i].AffectedUsers
	}
	th, labels := LabelByQuantiles(users)

	meta := &domain.ModelMetadata{
		LabelEncoders: make(map[string]domain.Vocabulary, len(domain.CategoricalColumns)+1),
		Features:      append([]string(nil), Features...),
		Thresholds:    th,
	}

	raws := make([]domain.RawIncident, len(rows))
	for i := range rows {
		raws[i] = rows[i].Raw()
	}
	for _, col := range domain.CategoricalColumns {
		values := make([]string, len(raws))
		for i := range raws {
			values[i], _ = raws[i].Categorical(col)
		}
		meta.LabelEncoders[col] = FitVocabulary(values)
	}
	labelValues := make([]string, len(labels))
	for i, l := range labels {
		labelValues[i] = string(l)
	}
	severity := FitVocabulary(labelValues)
	meta.LabelEncoders[domain.ColSeverity] = severity

	enc, err := NewEncoder(meta, domain.UnseenStrict)
	if err != nil {
		return nil, err
	}

	p := &Prepared{
		Rows:       rows,
		X:          make([][]float64, len(rows)),
		Y:          make([]int, len(rows)),
		Labels:     labels,
		Thresholds: th,
		Metadata:   meta,
	}
	for i := range raws {
		vec, _, err := enc.Encode(&raws[i])
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
		p.X[i] = vec
		p.Y[i], _ = severity.Index(string(labels[i]))
	}
	return p, nil
}

// Run loads the processed dataset, fits the classifier on a stratified
// training split, reports on the held-out split and persists the model,
// vocabularies and feature order. Nothing is written on failure.
func (t *Trainer) Run(ctx context.Context) (*domain.TrainingRun, error) {
	ctx, span := tracer.Start(ctx, "training.Run")
	defer span.End()

	run, err := t.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.rows", run.Rows),
		attribute.Float64("run.accuracy", run.Report.Accuracy),
	)
	return run, nil
}

func (t *Trainer) run(ctx context.Context) (*domain.TrainingRun, error) {
	run := &domain.TrainingRun{
		ID:        uuid.New().String(),
		StartedAt: t.now().UTC(),
	}

	rows, err := dataset.ReadProcessed(t.store.ProcessedPath())
	if err != nil {
		return nil, fmt.Errorf("load processed dataset: %w", err)
	}

	prep, err := Prepare(rows)
	if err != nil {
		return nil, err
	}
	run.Rows = len(rows)
	run.Thresholds = prep.Thresholds
	slog.Info("severity labels assigned",
		"rows", run.Rows,
		"low_max", prep.Thresholds.Q33,
		"medium_max", prep.Thresholds.Q66,
	)

	testFrac := t.cfg.TestFraction
	if testFrac == 0 {
		testFrac = 0.2
	}
	trainIdx, testIdx, err := StratifiedSplit(prep.Y, testFrac, t.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split training set: %w", err)
	}
	run.TrainRows, run.TestRows = len(trainIdx), len(testIdx)

	xTrain, yTrain := subset(prep.X, prep.Y, trainIdx)
	xTest, yTest := subset(prep.X, prep.Y, testIdx)

	severity := prep.Metadata.SeverityVocabulary()
	started := time.Now()
	model, err := forest.Fit(ctx, xTrain, yTrain, len(severity), t.params)
	if errors.Is(err, forest.ErrNoSamples) {
		return nil, domain.ErrEmptyTrainingSet
	}
	if err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}
	slog.Info("classifier fitted",
		"trees", len(model.Trees),
		"train_rows", run.TrainRows,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	yPred := make([]int, len(xTest))
	for i, x := range xTest {
		yPred[i] = model.Predict(x)
	}
	run.Report = ClassificationReport(yTest, yPred, severity)
	for i, imp := range model.Importances {
		run.FeatureImportances = append(run.FeatureImportances, domain.FeatureImportance{
			Feature:    prep.Metadata.Features[i],
			Importance: imp,
		})
	}

	run.FinishedAt = t.now().UTC()
	prep.Metadata.RunID = run.ID
	prep.Metadata.TrainedAt = run.FinishedAt

	if err := t.persist(prep, model); err != nil {
		return nil, err
	}

	telemetry.TrainingRuns.Inc()
	telemetry.ModelAccuracy.Set(run.Report.Accuracy)
	slog.Info("model trained",
		"run_id", run.ID,
		"accuracy", run.Report.Accuracy,
		"test_rows", run.TestRows,
	)

	t.publish(ctx, run)
	return run, nil
}

// persist writes the model before the metadata so a reader that finds the
// new metadata also finds a model that accepts its features.
func (t *Trainer) persist(prep *Prepared, model *forest.Forest) error {
	if err := t.store.SaveModel(model); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := t.store.SaveMetadata(prep.Metadata); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	if err := dataset.WriteTable(t.store.EncodedPath(), domain.ProcessedColumns, EncodedRecords(prep)); err != nil {
		return fmt.Errorf("save encoded training data: %w", err)
	}
	return nil
}

func (t *Trainer) publish(ctx context.Context, run *domain.TrainingRun) {
	if t.repo != nil {
		if err := t.repo.SaveTrainingRun(ctx, run); err != nil {
			slog.Warn("failed to record training run", "run_id", run.ID, "error", err)
		}
	}
	for _, hook := range t.hooks {
		hook(ctx)
	}
	if t.bus != nil {
		event := domain.ModelTrainedEvent{RunID: run.ID, Accuracy: run.Report.Accuracy}
		if err := bus.PublishJSON(ctx, t.bus, domain.TopicModelTrained, event); err != nil {
			slog.Warn("failed to publish model trained event", "run_id", run.ID, "error", err)
		}
	}
}

// EncodedRecords renders the processed table with categorical columns and
// the severity label replaced by their vocabulary indices.
func EncodedRecords(prep *Prepared) [][]string {
	pos := make(map[string]int, len(domain.ProcessedColumns))
	for i, col := range domain.ProcessedColumns {
		pos[col] = i
	}
	severity := prep.Metadata.SeverityVocabulary()

	out := make([][]string, len(prep.Rows))
	for i := range prep.Rows {
		rec := prep.Rows[i].Record()
		raw := prep.Rows[i].Raw()
		for _, col := range domain.CategoricalColumns {
			value, _ := raw.Categorical(col)
			code, _ := prep.Metadata.LabelEncoders[col].Index(value)
			rec[pos[col]] = strconv.Itoa(code)
		}
		code, _ := severity.Index(string(prep.Labels[i]))
		rec[pos[domain.ColSeverity]] = strconv.Itoa(code)
		out[i] = rec
	}
	return out
}

func subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i], ys[i] = x[j], y[j]
	}
	return xs, ys
}
