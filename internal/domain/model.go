package domain

import (
	"errors"
	"time"
)

var (
	// ErrModelNotFound is returned when the trained model or its metadata
	// has not been written yet.
	ErrModelNotFound = errors.New("trained model not found, run training first")

	// ErrUnseenCategory is returned under the strict unseen policy when a
	// categorical value was not part of the training vocabulary.
	ErrUnseenCategory = errors.New("category not seen during training")

	// ErrEmptyTrainingSet aborts training before any artifact is written.
	ErrEmptyTrainingSet = errors.New("training set is empty")

	// ErrDatasetNotFound is returned when an input dataset file is missing.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// Vocabulary is a frozen ordered category list; the index is the encoding.
type Vocabulary []string

// Index returns the encoded value of v.
func (v Vocabulary) Index(value string) (int, bool) {
	for i, c := range v {
		if c == value {
			return i, true
		}
	}
	return 0, false
}

// ModelMetadata is persisted next to the classifier and must be loaded before
// any prediction. Features is consumed verbatim to assemble feature vectors.
type ModelMetadata struct {
	LabelEncoders map[string]Vocabulary `json:"label_encoders"`
	Features      []string              `json:"model_features"`
	RunID         string                `json:"run_id,omitempty"`
	TrainedAt     time.Time             `json:"trained_at,omitempty"`
	Thresholds    Thresholds            `json:"thresholds"`
}

// SeverityVocabulary returns the vocabulary used to decode predictions.
func (m *ModelMetadata) SeverityVocabulary() Vocabulary {
	return m.LabelEncoders[ColSeverity]
}

// Thresholds are the affected-users quantile cut points of a training run.
type Thresholds struct {
	Q33 float64 `json:"q33"`
	Q66 float64 `json:"q66"`
}

// ClassMetrics holds the per-class scores of a classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarises held-out classifier quality.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macroAvg"`
	WeightedAvg ClassMetrics   `json:"weightedAvg"`
}

// FeatureImportance is the mean impurity decrease attributed to a feature.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// TrainingRun records one trainer execution.
type TrainingRun struct {
	ID                 string               `json:"id"`
	StartedAt          time.Time            `json:"startedAt"`
	FinishedAt         time.Time            `json:"finishedAt"`
	Rows               int                  `json:"rows"`
	TrainRows          int                  `json:"trainRows"`
	TestRows           int                  `json:"testRows"`
	Thresholds         Thresholds           `json:"thresholds"`
	Report             ClassificationReport `json:"report"`
	FeatureImportances []FeatureImportance  `json:"featureImportances"`
}

// Prediction is the audit record of one served prediction.
type Prediction struct {
	ID            string             `json:"id"`
	JobID         string             `json:"jobId,omitempty"`
	Seq           int                `json:"seq,omitempty"` // position within the job
	RunID         string             `json:"runId"`
	Input         RawIncident        `json:"input"`
	Label         SeverityLabel      `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
	Fallbacks     []string           `json:"fallbacks,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}
