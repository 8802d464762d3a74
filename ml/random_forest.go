package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const KindRandomForest = "random_forest"

// ForestParams configures the ensemble.
type ForestParams struct {
	NumTrees        int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64
	// Jobs bounds the number of trees fit concurrently; 0 uses every CPU.
	Jobs int
	// OnTreeFitted is called once per finished tree, from the fitting
	// goroutine.
	OnTreeFitted func()
}

// DefaultForestParams is the fixed training configuration: 300 trees of
// unbounded depth, seed 42.
func DefaultForestParams() ForestParams {
	return ForestParams{
		NumTrees:        300,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// RandomForest is a bagged ensemble of DecisionTrees. After Fit it is
// read-only and safe for concurrent prediction.
type RandomForest struct {
	trees       []*DecisionTree
	classes     []string
	numFeatures int
	maxFeatures int
	params      ForestParams
}

// Fit trains the forest. Class labels are sorted to fix the column order of
// the probability matrix.
func (rf *RandomForest) Fit(ctx context.Context, X [][]float64, y []string, params ForestParams) error {
	if len(X) == 0 {
		return errors.New("empty training data")
	}
	if len(X) != len(y) {
		return errors.New("X and y must have same number of samples")
	}
	if params.NumTrees <= 0 {
		params.NumTrees = DefaultForestParams().NumTrees
	}
	jobs := params.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	classes := uniqueSorted(y)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	labels := make([]int, len(y))
	for i, label := range y {
		labels[i] = classIndex[label]
	}

	numFeatures := len(X[0])
	for i, row := range X {
		if len(row) != numFeatures {
			return errors.Errorf("row %d has %d features, expected %d", i, len(row), numFeatures)
		}
	}
	maxFeatures := int(math.Sqrt(float64(numFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	// seeds are drawn up front so the result does not depend on scheduling
	master := rand.New(rand.NewSource(params.Seed))
	seeds := make([]int64, params.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*DecisionTree, params.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(seeds[i]))
			bootX, bootY := bootstrapSample(X, labels, rnd)
			tree := &DecisionTree{}
			treeParams := TreeParams{
				MaxDepth:        params.MaxDepth,
				MinSamplesSplit: params.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
			}
			if err := tree.Train(bootX, bootY, len(classes), treeParams, rnd); err != nil {
				return errors.Wrapf(err, "tree %d", i)
			}
			trees[i] = tree
			if params.OnTreeFitted != nil {
				params.OnTreeFitted()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "fit forest")
	}

	rf.trees = trees
	rf.classes = classes
	rf.numFeatures = numFeatures
	rf.maxFeatures = maxFeatures
	params.OnTreeFitted = nil
	rf.params = params
	return nil
}

func bootstrapSample(X [][]float64, y []int, rnd *rand.Rand) ([][]float64, []int) {
	n := len(X)
	bootX := make([][]float64, n)
	bootY := make([]int, n)
	for i := 0; i < n; i++ {
		idx := rnd.Intn(n)
		bootX[i] = X[idx]
		bootY[i] = y[idx]
	}
	return bootX, bootY
}

// Classes returns the labels in probability-column order.
func (rf *RandomForest) Classes() []string {
	return append([]string(nil), rf.classes...)
}

// PredictProba averages the leaf distributions of every tree.
func (rf *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(rf.trees) == 0 {
		return nil, errors.New("model not trained")
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		if len(x) != rf.numFeatures {
			return nil, errors.Errorf("row %d: expected %d features, got %d", i, rf.numFeatures, len(x))
		}
		sum := make([]float64, len(rf.classes))
		for t, tree := range rf.trees {
			proba, err := tree.PredictProba(x)
			if err != nil {
				return nil, errors.Wrapf(err, "tree %d", t)
			}
			for c, p := range proba {
				sum[c] += p
			}
		}
		for c := range sum {
			sum[c] /= float64(len(rf.trees))
		}
		out[i] = sum
	}
	return out, nil
}

// Predict returns the most probable label per row.
func (rf *RandomForest) Predict(X [][]float64) ([]string, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(proba))
	for i, p := range proba {
		labels[i] = rf.classes[argmax(p)]
	}
	return labels, nil
}

// Info summarizes the fitted ensemble.
func (rf *RandomForest) Info() map[string]interface{} {
	avgDepth, avgNodes := 0.0, 0.0
	for _, tree := range rf.trees {
		avgDepth += float64(tree.Depth())
		avgNodes += float64(tree.NumNodes())
	}
	if n := float64(len(rf.trees)); n > 0 {
		avgDepth /= n
		avgNodes /= n
	}
	return map[string]interface{}{
		"algorithm":          KindRandomForest,
		"num_trees":          len(rf.trees),
		"num_features":       rf.numFeatures,
		"max_features":       rf.maxFeatures,
		"classes":            rf.Classes(),
		"avg_tree_depth":     avgDepth,
		"avg_nodes_per_tree": avgNodes,
		"seed":               rf.params.Seed,
	}
}

type forestState struct {
	Classes     []string     `json:"classes"`
	NumFeatures int          `json:"num_features"`
	MaxFeatures int          `json:"max_features"`
	NumTrees    int          `json:"num_trees"`
	MaxDepth    int          `json:"max_depth"`
	Seed        int64        `json:"seed"`
	Trees       [][]TreeNode `json:"trees"`
}

func (rf *RandomForest) state() forestState {
	trees := make([][]TreeNode, len(rf.trees))
	for i, tree := range rf.trees {
		trees[i] = tree.nodes
	}
	return forestState{
		Classes:     rf.Classes(),
		NumFeatures: rf.numFeatures,
		MaxFeatures: rf.maxFeatures,
		NumTrees:    len(rf.trees),
		MaxDepth:    rf.params.MaxDepth,
		Seed:        rf.params.Seed,
		Trees:       trees,
	}
}

func forestFromState(s forestState) (*RandomForest, error) {
	if len(s.Classes) == 0 {
		return nil, errors.New("forest has no classes")
	}
	if len(s.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	if s.NumFeatures <= 0 {
		return nil, errors.New("forest has no features")
	}
	trees := make([]*DecisionTree, len(s.Trees))
	for i, nodes := range s.Trees {
		tree := &DecisionTree{nodes: nodes}
		if err := tree.validate(s.NumFeatures, len(s.Classes)); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
		trees[i] = tree
	}
	return &RandomForest{
		trees:       trees,
		classes:     append([]string(nil), s.Classes...),
		numFeatures: s.NumFeatures,
		maxFeatures: s.MaxFeatures,
		params: ForestParams{
			NumTrees: len(trees),
			MaxDepth: s.MaxDepth,
			Seed:     s.Seed,
		},
	}, nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
