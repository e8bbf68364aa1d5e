// Package pipeline runs the offline stages that turn the raw incident file
// into the processed dataset and its summary tables.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/cluster"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/scoring"
	"github.com/opensource-finance/threatlens/internal/summary"
	"github.com/opensource-finance/threatlens/internal/telemetry"
)

var tracer = otel.Tracer("threatlens/pipeline")

// Report describes one pipeline run.
type Report struct {
	Cleaning   dataset.Stats               `json:"cleaning"`
	Rows       int                         `json:"rows"`
	TierCounts map[domain.SeverityTier]int `json:"tierCounts"`
	Tables     []string                    `json:"tables"`
	Duration   time.Duration               `json:"duration"`
}

// Pipeline cleans, scores and tiers the raw dataset.
type Pipeline struct {
	store   *artifact.Store
	cfg     domain.PipelineConfig
	bus     domain.EventBus
	weights scoring.Weights
}

// New creates a pipeline. eventBus may be nil.
func New(store *artifact.Store, cfg domain.PipelineConfig, eventBus domain.EventBus) *Pipeline {
	return &Pipeline{
		store:   store,
		cfg:     cfg,
		bus:     eventBus,
		weights: scoring.DefaultWeights,
	}
}

func (p *Pipeline) kmeans() cluster.KMeans {
	km := cluster.DefaultKMeans()
	if p.cfg.Clusters > 0 {
		km.K = p.cfg.Clusters
	}
	if p.cfg.Seed != 0 {
		km.Seed = p.cfg.Seed
	}
	if p.cfg.MaxIter > 0 {
		km.MaxIter = p.cfg.MaxIter
	}
	if p.cfg.Tol > 0 {
		km.Tol = p.cfg.Tol
	}
	return km
}

// Process reads the raw incidents from the configured input, writes the
// processed dataset and the summary tables, then announces the result on
// the bus. Earlier outputs are left untouched when a stage fails.
func (p *Pipeline) Process(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	report, err := p.process(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("pipeline.rows", report.Rows))
	return report, nil
}

func (p *Pipeline) process(ctx context.Context) (*Report, error) {
	started := time.Now()

	raw, err := dataset.ReadRaw(p.cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("load raw dataset: %w", err)
	}
	telemetry.PipelineRows.WithLabelValues("raw").Set(float64(len(raw)))

	cleaned, stats := dataset.CleanWithStats(raw)
	telemetry.PipelineRows.WithLabelValues("cleaned").Set(float64(len(cleaned)))
	slog.Info("dataset cleaned",
		"input", stats.Input,
		"duplicates", stats.Duplicates,
		"rows", stats.Output,
		"imputed", stats.Imputed,
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := p.weights.Score(cleaned)

	processed, err := p.kmeans().AssignTiers(scored)
	if err != nil {
		return nil, err
	}
	telemetry.PipelineRows.WithLabelValues("processed").Set(float64(len(processed)))

	if err := dataset.WriteProcessed(p.store.ProcessedPath(), processed); err != nil {
		return nil, fmt.Errorf("save processed dataset: %w", err)
	}

	tables := summary.Build(processed)
	if err := summary.Write(p.store, tables); err != nil {
		return nil, err
	}

	report := &Report{
		Cleaning:   stats,
		Rows:       len(processed),
		TierCounts: summary.ComputeKPIs(processed).TierCounts,
		Tables:     summary.Names(),
		Duration:   time.Since(started),
	}
	slog.Info("dataset processed",
		"rows", report.Rows,
		"path", p.store.ProcessedPath(),
		"tiers", report.TierCounts,
		"duration_ms", report.Duration.Milliseconds(),
	)

	if p.bus != nil {
		event := domain.DatasetProcessedEvent{Rows: report.Rows, Path: p.store.ProcessedPath()}
		if err := bus.PublishJSON(ctx, p.bus, domain.TopicDatasetProcessed, event); err != nil {
			slog.Warn("failed to publish dataset processed event", "error", err)
		}
	}
	return report, nil
}
