package repository

// Schema definitions for the ThreatLens database.
// Compatible with both SQLite and PostgreSQL.

const schemaTrainingRuns = `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    rows_total INTEGER NOT NULL,
    train_rows INTEGER NOT NULL,
    test_rows INTEGER NOT NULL,
    accuracy REAL NOT NULL,
    thresholds TEXT NOT NULL,
    report TEXT NOT NULL,
    feature_importances TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_runs_finished ON training_runs(finished_at);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL DEFAULT 0,
    run_id TEXT NOT NULL,
    label TEXT NOT NULL,
    input TEXT NOT NULL,
    probabilities TEXT NOT NULL,
    fallbacks TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_job ON predictions(job_id, seq);
CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions(run_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTrainingRuns,
		schemaPredictions,
	}
}
