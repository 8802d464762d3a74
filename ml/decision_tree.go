package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// DecisionTree is a CART classifier stored as a flat preorder node slice.
// Leaves carry the class distribution of the samples that reached them.
type DecisionTree struct {
	nodes []TreeNode
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Proba      []float64 `json:"proba,omitempty"`
	IsLeaf     bool      `json:"is_leaf"`
}

// TreeParams bounds tree growth. MaxDepth 0 means unbounded; MaxFeatures 0
// means every feature is considered at every split.
type TreeParams struct {
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int
}

type treeBuilder struct {
	features   [][]float64
	labels     []int
	numClasses int
	params     TreeParams
	rnd        *rand.Rand
	nodes      []TreeNode
}

// Train fits the tree on labels encoded as class indices in [0, numClasses).
func (dt *DecisionTree) Train(features [][]float64, labels []int, numClasses int, params TreeParams, rnd *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if numClasses <= 0 {
		return errors.New("numClasses must be positive")
	}
	for _, label := range labels {
		if label < 0 || label >= numClasses {
			return errors.Errorf("label %d out of range", label)
		}
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	featureCount := len(features[0])
	if params.MaxFeatures <= 0 || params.MaxFeatures > featureCount {
		params.MaxFeatures = featureCount
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}

	b := &treeBuilder{
		features:   features,
		labels:     labels,
		numClasses: numClasses,
		params:     params,
		rnd:        rnd,
	}
	samples := make([]int, len(labels))
	for i := range samples {
		samples[i] = i
	}
	b.build(samples, 0)
	dt.nodes = b.nodes
	return nil
}

// PredictProba walks the tree and returns the leaf distribution. The slice
// is shared with the tree and must not be modified.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Proba, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// Predict returns the most probable class index and its probability.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	best := argmax(proba)
	return best, proba[best], nil
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		left, right := walk(node.LeftChild), walk(node.RightChild)
		if left > right {
			return left + 1
		}
		return right + 1
	}
	return walk(0)
}

// NumNodes returns the node count.
func (dt *DecisionTree) NumNodes() int {
	return len(dt.nodes)
}

// validate checks structural integrity of a deserialized tree.
func (dt *DecisionTree) validate(numFeatures, numClasses int) error {
	if len(dt.nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, node := range dt.nodes {
		if node.IsLeaf {
			if len(node.Proba) != numClasses {
				return errors.Errorf("node %d: %d probabilities for %d classes", i, len(node.Proba), numClasses)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= numFeatures {
			return errors.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		// children always follow their parent in preorder
		if node.LeftChild <= i || node.LeftChild >= len(dt.nodes) || node.RightChild <= i || node.RightChild >= len(dt.nodes) {
			return errors.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

func (b *treeBuilder) build(samples []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	counts := b.classCounts(samples)
	if b.stop(samples, counts, depth) {
		b.nodes[idx] = b.leaf(counts, len(samples))
		return idx
	}

	feature, threshold, ok := b.findBestSplit(samples, counts)
	if !ok {
		b.nodes[idx] = b.leaf(counts, len(samples))
		return idx
	}

	left, right := b.partition(samples, feature, threshold)
	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	b.nodes[idx] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  leftIdx,
		RightChild: rightIdx,
	}
	return idx
}

func (b *treeBuilder) stop(samples []int, counts []int, depth int) bool {
	if len(samples) < b.params.MinSamplesSplit {
		return true
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return true
	}
	return isPure(counts)
}

func (b *treeBuilder) leaf(counts []int, total int) TreeNode {
	proba := make([]float64, len(counts))
	for i, c := range counts {
		proba[i] = float64(c) / float64(total)
	}
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Proba:      proba,
		IsLeaf:     true,
	}
}

// findBestSplit visits features in random order and evaluates at least
// MaxFeatures of them; it keeps going past that budget only while no valid
// split has been found. Any split with non-empty sides is valid, including
// one with no impurity decrease.
func (b *treeBuilder) findBestSplit(samples []int, parentCounts []int) (int, float64, bool) {
	featureCount := len(b.features[0])
	order := b.rnd.Perm(featureCount)

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	sorted := make([]int, len(samples))
	for visited, feature := range order {
		if visited >= b.params.MaxFeatures && bestFeature != -1 {
			break
		}
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
		})

		left := make([]int, b.numClasses)
		right := append([]int(nil), parentCounts...)
		n := len(sorted)
		for i := 0; i < n-1; i++ {
			label := b.labels[sorted[i]]
			left[label]++
			right[label]--
			current := b.features[sorted[i]][feature]
			next := b.features[sorted[i+1]][feature]
			if current == next {
				continue
			}
			nLeft, nRight := i+1, n-i-1
			impurity := (float64(nLeft)*gini(left, nLeft) + float64(nRight)*gini(right, nRight)) / float64(n)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = current + (next-current)/2
				if bestThreshold == next {
					bestThreshold = current
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(samples []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if b.features[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func (b *treeBuilder) classCounts(samples []int) []int {
	counts := make([]int, b.numClasses)
	for _, s := range samples {
		counts[b.labels[s]]++
	}
	return counts
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax returns the first index holding the maximum value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
