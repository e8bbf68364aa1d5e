package forest

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// Node is one decision tree node. Leaves have Feature -1 and carry the class
// distribution of their training samples in Value.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64
}

// Tree is a CART classification tree stored as a flat node slice; node 0 is
// the root.
type Tree struct {
	Nodes []Node
}

// Leaf returns the class distribution reached by x.
func (t *Tree) Leaf(x []float64) []float64 {
	n := &t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Depth returns the longest root-to-leaf path length.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type treeBuilder struct {
	x          [][]float64
	y          []int
	classes    int
	params     Params
	rng        *rand.Rand
	tree       *Tree
	importance []float64
}

// grow fits a tree on the given sample indices, duplicates included.
func grow(x [][]float64, y []int, classes int, idx []int, p Params, rng *rand.Rand) (*Tree, []float64) {
	b := &treeBuilder{
		x:          x,
		y:          y,
		classes:    classes,
		params:     p,
		rng:        rng,
		tree:       &Tree{},
		importance: make([]float64, len(x[0])),
	}
	b.build(idx, 0)
	return b.tree, b.importance
}

func (b *treeBuilder) counts(idx []int) []float64 {
	c := make([]float64, b.classes)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func (b *treeBuilder) build(idx []int, depth int) int {
	counts := b.counts(idx)
	n := float64(len(idx))
	impurity := gini(counts, n)

	node := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1})

	leaf := func() int {
		for c := range counts {
			counts[c] /= n
		}
		b.tree.Nodes[node].Value = counts
		return node
	}

	if (b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		len(idx) < b.params.MinSamplesSplit ||
		impurity <= 1e-12 {
		return leaf()
	}

	s, ok := b.bestSplit(idx, counts)
	if !ok {
		return leaf()
	}

	left := make([]int, 0, s.nLeft)
	right := make([]int, 0, len(idx)-s.nLeft)
	for _, i := range idx {
		if b.x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importance[s.feature] += n*impurity -
		float64(len(left))*gini(b.counts(left), float64(len(left))) -
		float64(len(right))*gini(b.counts(right), float64(len(right)))

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[node].Feature = s.feature
	b.tree.Nodes[node].Threshold = s.threshold
	b.tree.Nodes[node].Left = l
	b.tree.Nodes[node].Right = r
	return node
}

type split struct {
	feature   int
	threshold float64
	nLeft     int
	impurity  float64
}

// bestSplit scans up to MaxFeatures non-constant features, drawn in random
// order, for the threshold minimising weighted child Gini impurity.
func (b *treeBuilder) bestSplit(idx []int, counts []float64) (split, bool) {
	nFeatures := len(b.x[0])
	perm := b.rng.Perm(nFeatures)
	maxFeatures := b.params.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > nFeatures {
		maxFeatures = nFeatures
	}

	n := float64(len(idx))
	sorted := slices.Clone(idx)
	leftCounts := make([]float64, b.classes)
	rightCounts := make([]float64, b.classes)

	best := split{impurity: 2}
	found := false
	visited := 0

	for _, f := range perm {
		if visited >= maxFeatures {
			break
		}
		slices.SortFunc(sorted, func(i, j int) int {
			return cmp.Compare(b.x[i][f], b.x[j][f])
		})
		if b.x[sorted[0]][f] == b.x[sorted[len(sorted)-1]][f] {
			continue
		}
		visited++

		clear(leftCounts)
		copy(rightCounts, counts)
		for k := 0; k < len(sorted)-1; k++ {
			cls := b.y[sorted[k]]
			leftCounts[cls]++
			rightCounts[cls]--

			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			imp := (nl*gini(leftCounts, nl) + nr*gini(rightCounts, nr)) / n
			if imp < best.impurity {
				threshold := lo + (hi-lo)/2
				if threshold == hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, nLeft: k + 1, impurity: imp}
				found = true
			}
		}
	}
	return best, found
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / n
		sum += p * p
	}
	return 1 - sum
}
