// Package forest implements a random forest classifier: bootstrap-sampled
// CART trees on Gini impurity with random feature subsets per split.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Params configures Fit.
type Params struct {
	Trees           int
	MaxDepth        int // 0 = unlimited
	MinSamplesSplit int
	MaxFeatures     int // 0 = floor(sqrt(features))
	Seed            uint64
	Workers         int // 0 = GOMAXPROCS
}

// DefaultParams matches the production severity classifier.
func DefaultParams() Params {
	return Params{
		Trees:           300,
		MaxDepth:        14,
		MinSamplesSplit: 4,
		Seed:            42,
	}
}

// Forest is a fitted classifier. All fields are exported for gob encoding;
// a Forest is read-only after Fit and safe for concurrent prediction.
type Forest struct {
	Classes     int
	Features    int
	Trees       []Tree
	Importances []float64
}

// ErrNoSamples is returned by Fit when there is nothing to learn from.
var ErrNoSamples = errors.New("no training samples")

// Fit grows p.Trees trees concurrently. Each tree draws from its own random
// stream derived from p.Seed, so the result does not depend on scheduling.
func Fit(ctx context.Context, x [][]float64, y []int, classes int, p Params) (*Forest, error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, ErrNoSamples
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%d samples but %d labels", len(x), len(y))
	}
	nFeatures := len(x[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("samples have no features")
	}
	for i, row := range x {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), nFeatures)
		}
	}
	for i, c := range y {
		if c < 0 || c >= classes {
			return nil, fmt.Errorf("label %d of sample %d outside [0,%d)", c, i, classes)
		}
	}

	if p.Trees <= 0 {
		p.Trees = DefaultParams().Trees
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MaxFeatures <= 0 {
		p.MaxFeatures = max(1, int(math.Sqrt(float64(nFeatures))))
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	master := rand.New(rand.NewPCG(p.Seed, p.Seed))
	seeds := make([]uint64, p.Trees)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	f := &Forest{
		Classes:  classes,
		Features: nFeatures,
		Trees:    make([]Tree, p.Trees),
	}
	importances := make([][]float64, p.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := 0; t < p.Trees; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seeds[t], uint64(t)))
			idx := make([]int, len(x))
			for i := range idx {
				idx[i] = rng.IntN(len(x))
			}
			tree, imp := grow(x, y, classes, idx, p, rng)
			f.Trees[t] = *tree
			importances[t] = imp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.Importances = averageImportances(importances, nFeatures)
	return f, nil
}

// averageImportances normalizes each tree's impurity decreases, averages
// them and normalizes the result to sum to 1.
func averageImportances(perTree [][]float64, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, imp := range perTree {
		total := 0.0
		for _, v := range imp {
			total += v
		}
		if total == 0 {
			continue
		}
		for i, v := range imp {
			out[i] += v / total
		}
	}
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}

// PredictProba averages the leaf class distributions of every tree.
func (f *Forest) PredictProba(x []float64) []float64 {
	proba := make([]float64, f.Classes)
	for i := range f.Trees {
		for c, v := range f.Trees[i].Leaf(x) {
			proba[c] += v
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba
}

// Predict returns the most probable class, the lowest index on ties.
func (f *Forest) Predict(x []float64) int {
	return Argmax(f.PredictProba(x))
}

// Argmax returns the index of the largest value, the first one on ties.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Validate checks that x can be fed to the forest.
func (f *Forest) Validate(x []float64) error {
	if len(x) != f.Features {
		return fmt.Errorf("got %d features, model expects %d", len(x), f.Features)
	}
	return nil
}
