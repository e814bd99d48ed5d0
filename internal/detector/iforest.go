package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/opensource-security/shrike/internal/domain"
)

// eulerMascheroni approximates the harmonic number H(n) as ln(n) + gamma.
const eulerMascheroni = 0.5772156649

// IsolationForest isolates anomalies with an ensemble of random binary
// trees: anomalous points sit closer to the root, so a short average
// path length means a high anomaly score.
type IsolationForest struct {
	cfg             domain.IsolationForestConfig
	scorePercentile float64
	maxDepth        int
	rng             *rand.Rand

	trees     []*forestNode
	refLength float64
	threshold float64
	fitted    bool
}

// forestNode is one node of an isolation tree. Fields are exported for
// gob serialization only.
type forestNode struct {
	SplitFeature int
	SplitValue   float64
	Left, Right  *forestNode
	Size         int
}

// NewIsolationForest creates an unfitted forest. The decision threshold
// is frozen at the given percentile of the training scores during Fit.
func NewIsolationForest(cfg domain.IsolationForestConfig, scorePercentile float64) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	return &IsolationForest{
		cfg:             cfg,
		scorePercentile: scorePercentile,
		maxDepth:        int(math.Ceil(math.Log2(float64(cfg.SampleSize)))),
		rng:             rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Kind returns the detector kind.
func (f *IsolationForest) Kind() string { return domain.KindIsolationForest }

// Fit builds the trees on random subsamples and freezes the decision
// threshold from the training-score distribution.
func (f *IsolationForest) Fit(X [][]float64) error {
	if err := checkMatrix(X); err != nil {
		return err
	}

	sampleSize := f.cfg.SampleSize
	if sampleSize > len(X) {
		sampleSize = len(X)
	}
	nFeatures := len(X[0])

	f.trees = make([]*forestNode, f.cfg.Trees)
	for i := range f.trees {
		indices := f.rng.Perm(len(X))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = X[idx]
		}
		f.trees[i] = f.grow(sample, nFeatures, 0)
	}

	f.refLength = unsuccessfulSearchLength(float64(sampleSize))
	f.fitted = true

	scores, err := f.Score(X)
	if err != nil {
		return err
	}
	f.threshold = percentile(scores, f.scorePercentile)
	return nil
}

func (f *IsolationForest) grow(data [][]float64, nFeatures, depth int) *forestNode {
	n := len(data)
	if depth >= f.maxDepth || n <= 1 {
		return &forestNode{Size: n}
	}

	feature := f.rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &forestNode{Size: n}
	}

	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &forestNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.grow(left, nFeatures, depth+1),
		Right:        f.grow(right, nFeatures, depth+1),
	}
}

// Score returns 2^(-avgPathLength/c(n)) per row.
func (f *IsolationForest) Score(X [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, domain.ErrNotFitted
	}
	if err := checkMatrix(X); err != nil {
		return nil, err
	}

	scores := make([]float64, len(X))
	for i, sample := range X {
		var total float64
		for _, tree := range f.trees {
			total += pathLength(sample, tree, 0)
		}
		avg := total / float64(len(f.trees))
		scores[i] = math.Pow(2, -avg/f.refLength)
	}
	return scores, nil
}

// Predict labels rows against the frozen threshold.
func (f *IsolationForest) Predict(X [][]float64) ([]int, error) {
	scores, err := f.Score(X)
	if err != nil {
		return nil, err
	}
	return thresholdPredict(scores, f.threshold), nil
}

func pathLength(sample []float64, n *forestNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + unsuccessfulSearchLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// unsuccessfulSearchLength is c(n), the average path length of an
// unsuccessful binary search tree lookup over n samples.
func unsuccessfulSearchLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}

type forestState struct {
	Cfg             domain.IsolationForestConfig
	ScorePercentile float64
	Trees           []*forestNode
	RefLength       float64
	Threshold       float64
}

// MarshalBinary serializes the fitted forest.
func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	if !f.fitted {
		return nil, domain.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestState{
		Cfg:             f.cfg,
		ScorePercentile: f.scorePercentile,
		Trees:           f.trees,
		RefLength:       f.refLength,
		Threshold:       f.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted forest.
func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	f.cfg = st.Cfg
	f.scorePercentile = st.ScorePercentile
	f.trees = st.Trees
	f.refLength = st.RefLength
	f.threshold = st.Threshold
	f.maxDepth = int(math.Ceil(math.Log2(float64(st.Cfg.SampleSize))))
	f.rng = rand.New(rand.NewSource(st.Cfg.Seed))
	f.fitted = true
	return nil
}
