// Package cluster groups scored incidents into ordinal severity tiers with
// k-means.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// KMeans configures a seeded Lloyd's k-means with k-means++ seeding.
type KMeans struct {
	K       int
	Seed    uint64
	MaxIter int
	Tol     float64
}

// DefaultKMeans matches the production tiering setup.
func DefaultKMeans() KMeans {
	return KMeans{K: 4, Seed: 42, MaxIter: 300, Tol: 1e-4}
}

// Result is a fitted clustering.
type Result struct {
	Centers    [][]float64
	Labels     []int
	Inertia    float64
	Iterations int
}

// ErrTooFewPoints is returned when there are fewer points than clusters.
var ErrTooFewPoints = errors.New("fewer points than clusters")

// Fit clusters points, each a feature vector of equal length. The same
// points, seed and settings always yield the same result.
func (km KMeans) Fit(points [][]float64) (*Result, error) {
	if km.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", km.K)
	}
	if len(points) < km.K {
		return nil, fmt.Errorf("%d points for k=%d: %w", len(points), km.K, ErrTooFewPoints)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has %d features, want %d", i, len(p), dim)
		}
	}
	if km.MaxIter <= 0 {
		km.MaxIter = 300
	}

	rng := rand.New(rand.NewPCG(km.Seed, km.Seed))
	centers := km.seed(points, rng)
	tol := km.Tol * meanVariance(points, dim)

	labels := make([]int, len(points))
	res := &Result{Labels: labels}

	for iter := 1; iter <= km.MaxIter; iter++ {
		res.Iterations = iter
		changed := assign(points, centers, labels)

		next := recompute(points, labels, km.K, dim)
		fillEmpty(points, labels, next, centers)

		shift := 0.0
		for c := range centers {
			d := floats.Distance(centers[c], next[c], 2)
			shift += d * d
		}
		centers = next

		if !changed && iter > 1 {
			break
		}
		if shift <= tol {
			break
		}
	}

	// Final assignment against the converged centers.
	assign(points, centers, labels)
	res.Centers = centers
	for i, p := range points {
		d := floats.Distance(p, centers[labels[i]], 2)
		res.Inertia += d * d
	}
	return res, nil
}

// seed picks initial centers with greedy k-means++.
func (km KMeans) seed(points [][]float64, rng *rand.Rand) [][]float64 {
	n := len(points)
	trials := 2 + int(math.Log(float64(km.K)))

	centers := make([][]float64, 0, km.K)
	centers = append(centers, clone(points[rng.IntN(n)]))

	closest := make([]float64, n)
	for i, p := range points {
		closest[i] = sqDist(p, centers[0])
	}
	potential := floats.Sum(closest)

	cumulative := make([]float64, n)
	candidate := make([]float64, n)
	best := make([]float64, n)

	for len(centers) < km.K {
		floats.CumSum(cumulative, closest)

		bestIdx, bestPot := -1, math.Inf(1)
		for t := 0; t < trials; t++ {
			idx := rng.IntN(n)
			if potential > 0 {
				r := rng.Float64() * potential
				idx = min(sort.SearchFloat64s(cumulative, r), n-1)
			}

			pot := 0.0
			for i, p := range points {
				candidate[i] = min(closest[i], sqDist(p, points[idx]))
				pot += candidate[i]
			}
			if pot < bestPot {
				bestIdx, bestPot = idx, pot
				copy(best, candidate)
			}
		}

		centers = append(centers, clone(points[bestIdx]))
		copy(closest, best)
		potential = bestPot
	}
	return centers
}

// assign labels every point with its nearest center, lowest index on ties,
// and reports whether any label changed.
func assign(points, centers [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		bestC, bestD := 0, math.Inf(1)
		for c, center := range centers {
			if d := sqDist(p, center); d < bestD {
				bestC, bestD = c, d
			}
		}
		if labels[i] != bestC {
			changed = true
		}
		labels[i] = bestC
	}
	return changed
}

func recompute(points [][]float64, labels []int, k, dim int) [][]float64 {
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}
	for c := range sums {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), sums[c])
		} else {
			sums[c] = nil
		}
	}
	return sums
}

// fillEmpty relocates empty clusters onto the points farthest from their
// current centers.
func fillEmpty(points [][]float64, labels []int, next, prev [][]float64) {
	taken := make(map[int]bool)
	for c := range next {
		if next[c] != nil {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if taken[i] {
				continue
			}
			if d := sqDist(p, prev[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		taken[far] = true
		next[c] = clone(points[far])
		labels[far] = c
	}
}

func meanVariance(points [][]float64, dim int) float64 {
	col := make([]float64, len(points))
	total := 0.0
	for j := 0; j < dim; j++ {
		for i, p := range points {
			col[i] = p[j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(dim)
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
