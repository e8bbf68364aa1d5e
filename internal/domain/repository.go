// Package domain defines the core interfaces and types for ThreatLens.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for run and prediction persistence.
type Repository interface {
	// Training runs
	SaveTrainingRun(ctx context.Context, run *TrainingRun) error
	GetTrainingRun(ctx context.Context, runID string) (*TrainingRun, error)
	LatestTrainingRun(ctx context.Context) (*TrainingRun, error)
	ListTrainingRuns(ctx context.Context, limit int) ([]*TrainingRun, error)

	// Prediction audit trail
	SavePrediction(ctx context.Context, p *Prediction) error
	GetPrediction(ctx context.Context, predictionID string) (*Prediction, error)
	ListPredictionsByJob(ctx context.Context, jobID string) ([]*Prediction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDB" json:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode" json:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
