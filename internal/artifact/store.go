// Package artifact lays out the files shared by the pipeline, trainer and
// predictor under one root directory and writes them atomically.
package artifact

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// Relative artifact locations.
const (
	DataDir            = "data"
	ModelsDir          = "models"
	ProcessedFile      = "processed_data.csv"
	EncodedFile        = "encoded_training_data.csv"
	ModelFile          = "severity_model.bin"
	MetadataFile       = "model_features.json"
	predictionsCSVFile = "predictions.csv"
)

// Store resolves and persists artifacts under a root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{root: dir}
}

// Root returns the store root.
func (s *Store) Root() string { return s.root }

// ProcessedPath is the canonical processed dataset.
func (s *Store) ProcessedPath() string {
	return filepath.Join(s.root, DataDir, ProcessedFile)
}

// EncodedPath is the integer-encoded training table.
func (s *Store) EncodedPath() string {
	return filepath.Join(s.root, DataDir, EncodedFile)
}

// TablePath is a named summary table such as "country_summary".
func (s *Store) TablePath(name string) string {
	return filepath.Join(s.root, DataDir, name+".csv")
}

// PredictionsPath is the default output of batch CSV annotation.
func (s *Store) PredictionsPath() string {
	return filepath.Join(s.root, DataDir, predictionsCSVFile)
}

// ModelPath is the serialized classifier.
func (s *Store) ModelPath() string {
	return filepath.Join(s.root, ModelsDir, ModelFile)
}

// MetadataPath is the vocabularies and feature order.
func (s *Store) MetadataPath() string {
	return filepath.Join(s.root, ModelsDir, MetadataFile)
}

// SaveModel gob-encodes the classifier.
func (s *Store) SaveModel(model any) error {
	return WriteFile(s.ModelPath(), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(model)
	})
}

// LoadModel decodes the classifier into dst.
func (s *Store) LoadModel(dst any) error {
	f, err := os.Open(s.ModelPath())
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", s.ModelPath(), domain.ErrModelNotFound)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(dst); err != nil {
		return fmt.Errorf("decode model %s: %w", s.ModelPath(), err)
	}
	return nil
}

// SaveMetadata writes the vocabularies and feature order as JSON.
func (s *Store) SaveMetadata(meta *domain.ModelMetadata) error {
	return WriteFile(s.MetadataPath(), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(meta)
	})
}

// LoadMetadata reads the vocabularies and feature order.
func (s *Store) LoadMetadata() (*domain.ModelMetadata, error) {
	data, err := os.ReadFile(s.MetadataPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.MetadataPath(), domain.ErrModelNotFound)
	}
	if err != nil {
		return nil, err
	}

	var meta domain.ModelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", s.MetadataPath(), err)
	}
	if len(meta.Features) == 0 {
		return nil, fmt.Errorf("metadata %s has no model_features", s.MetadataPath())
	}
	return &meta, nil
}

// WriteFile writes path through a temp file in the same directory and renames
// it into place, so readers never observe a partial file.
func WriteFile(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
