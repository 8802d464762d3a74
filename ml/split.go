package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// StratifiedSplit partitions row indices into train and test so that every
// class keeps its share of the test set. Test size is ceil(testSize*n);
// per-class counts use largest-remainder rounding. Both index slices are
// returned in ascending order.
func StratifiedSplit(labels []string, testSize float64, seed int64) (train, test []int, err error) {
	n := len(labels)
	if n == 0 {
		return nil, nil, errors.New("no samples to split")
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.Errorf("test size must be in (0, 1), got %v", testSize)
	}

	byClass := make(map[string][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	for _, c := range classes {
		if len(byClass[c]) < 2 {
			return nil, nil, errors.Errorf("class %q has only %d member(s); at least 2 are required to stratify", c, len(byClass[c]))
		}
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, errors.Errorf("cannot stratify %d classes into %d train and %d test rows", len(classes), nTrain, nTest)
	}

	type share struct {
		class     string
		count     int
		remainder float64
	}
	shares := make([]share, len(classes))
	allocated := 0
	for i, c := range classes {
		exact := float64(len(byClass[c])) * float64(nTest) / float64(n)
		floor := int(math.Floor(exact))
		shares[i] = share{class: c, count: floor, remainder: exact - float64(floor)}
		allocated += floor
	}
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].remainder > shares[order[b]].remainder
	})
	for k := 0; allocated < nTest; k = (k + 1) % len(order) {
		s := &shares[order[k]]
		if s.count < len(byClass[s.class])-1 {
			s.count++
			allocated++
		}
	}

	rnd := rand.New(rand.NewSource(seed))
	for _, s := range shares {
		members := append([]int(nil), byClass[s.class]...)
		rnd.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		test = append(test, members[:s.count]...)
		train = append(train, members[s.count:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// SelectRecords picks rows by index.
func SelectRecords(records []StudentRecord, indices []int) []StudentRecord {
	out := make([]StudentRecord, len(indices))
	for i, idx := range indices {
		out[i] = records[idx]
	}
	return out
}

// SelectLabels picks labels by index.
func SelectLabels(labels []string, indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = labels[idx]
	}
	return out
}
