package training

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
)

// ErrTooFewSamples is returned when a split would leave one side empty.
var ErrTooFewSamples = errors.New("too few samples to split")

// StratifiedSplit partitions sample indices into train and test sets with
// the class proportions of labels preserved in both. The test set holds
// ceil(testFrac*n) samples; every class keeps at least one training sample.
// Both index lists are returned sorted.
func StratifiedSplit(labels []int, testFrac float64, seed uint64) (train, test []int, err error) {
	n := len(labels)
	if testFrac <= 0 || testFrac >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v outside (0,1)", testFrac)
	}
	nTest := int(math.Ceil(testFrac * float64(n)))
	if n < 2 || nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("%d samples: %w", n, ErrTooFewSamples)
	}

	byClass := make(map[int][]int)
	for i, c := range labels {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	// Largest remainder allocation of the test quota across classes.
	alloc := make(map[int]int, len(classes))
	type rem struct {
		class int
		frac  float64
	}
	var rems []rem
	assigned := 0
	for _, c := range classes {
		exact := float64(nTest) * float64(len(byClass[c])) / float64(n)
		alloc[c] = int(math.Floor(exact))
		assigned += alloc[c]
		rems = append(rems, rem{c, exact - math.Floor(exact)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest && i < len(rems); i++ {
		alloc[rems[i].class]++
		assigned++
	}
	for _, c := range classes {
		alloc[c] = min(alloc[c], len(byClass[c])-1)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:alloc[c]]...)
		train = append(train, idx[alloc[c]:]...)
	}
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}
