// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/threatlens/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	d, err := dialectFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := d.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const trainingRunColumns = `
	id, started_at, finished_at, rows_total, train_rows, test_rows,
	accuracy, thresholds, report, feature_importances`

// SaveTrainingRun stores a completed training run.
func (r *SQLRepository) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	thresholds, _ := json.Marshal(run.Thresholds)
	report, _ := json.Marshal(run.Report)
	importances, _ := json.Marshal(run.FeatureImportances)

	query := `INSERT INTO training_runs (` + trainingRunColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Rows, run.TrainRows, run.TestRows,
		run.Report.Accuracy, string(thresholds), string(report), string(importances),
	)
	return err
}

// GetTrainingRun retrieves a training run by ID.
func (r *SQLRepository) GetTrainingRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	query := `SELECT ` + trainingRunColumns + ` FROM training_runs WHERE id = ?`
	return scanTrainingRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
}

// LatestTrainingRun retrieves the most recently finished training run.
func (r *SQLRepository) LatestTrainingRun(ctx context.Context) (*domain.TrainingRun, error) {
	query := `SELECT ` + trainingRunColumns + `
		FROM training_runs
		ORDER BY finished_at DESC
		LIMIT 1`
	return scanTrainingRun(r.db.QueryRowContext(ctx, query))
}

// ListTrainingRuns retrieves up to limit training runs, newest first.
func (r *SQLRepository) ListTrainingRuns(ctx context.Context, limit int) ([]*domain.TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + trainingRunColumns + `
		FROM training_runs
		ORDER BY finished_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TrainingRun
	for rows.Next() {
		run, err := scanTrainingRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrainingRun(s scanner) (*domain.TrainingRun, error) {
	var run domain.TrainingRun
	var accuracy float64
	var thresholds, report, importances string

	err := s.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt,
		&run.Rows, &run.TrainRows, &run.TestRows,
		&accuracy, &thresholds, &report, &importances,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(thresholds), &run.Thresholds); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to parse report for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(importances), &run.FeatureImportances); err != nil {
		return nil, fmt.Errorf("failed to parse feature importances for run %s: %w", run.ID, err)
	}
	return &run, nil
}

const predictionColumns = `
	id, job_id, seq, run_id, label, input, probabilities, fallbacks, created_at`

// SavePrediction stores one served prediction.
func (r *SQLRepository) SavePrediction(ctx context.Context, p *domain.Prediction) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: prediction ID is required", ErrInvalidInput)
	}

	input, _ := json.Marshal(p.Input)
	probabilities, _ := json.Marshal(p.Probabilities)
	fallbacks, _ := json.Marshal(p.Fallbacks)

	query := `INSERT INTO predictions (` + predictionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.JobID, p.Seq, p.RunID, string(p.Label),
		string(input), string(probabilities), string(fallbacks), p.CreatedAt.UTC(),
	)
	return err
}

// GetPrediction retrieves a prediction by ID.
func (r *SQLRepository) GetPrediction(ctx context.Context, predictionID string) (*domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = ?`
	return scanPrediction(r.db.QueryRowContext(ctx, r.rebind(query), predictionID))
}

// ListPredictionsByJob retrieves the predictions of an async job in input
// order.
func (r *SQLRepository) ListPredictionsByJob(ctx context.Context, jobID string) ([]*domain.Prediction, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobID is required", ErrInvalidInput)
	}

	query := `SELECT ` + predictionColumns + `
		FROM predictions
		WHERE job_id = ?
		ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

func scanPrediction(s scanner) (*domain.Prediction, error) {
	var p domain.Prediction
	var label, input, probabilities string
	var fallbacks sql.NullString

	err := s.Scan(
		&p.ID, &p.JobID, &p.Seq, &p.RunID, &label,
		&input, &probabilities, &fallbacks, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Label = domain.SeverityLabel(label)
	if err := json.Unmarshal([]byte(input), &p.Input); err != nil {
		return nil, fmt.Errorf("failed to parse input of prediction %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(probabilities), &p.Probabilities); err != nil {
		return nil, fmt.Errorf("failed to parse probabilities of prediction %s: %w", p.ID, err)
	}
	if fallbacks.Valid && fallbacks.String != "" {
		json.Unmarshal([]byte(fallbacks.String), &p.Fallbacks)
	}
	return &p, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
