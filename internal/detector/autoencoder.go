package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/opensource-security/shrike/internal/domain"
)

// Autoencoder compresses each sample through a small tanh hidden layer
// and reconstructs it with a linear output layer, trained by plain SGD.
// The anomaly score is the reconstruction error: patterns unlike the
// training data reconstruct poorly.
type Autoencoder struct {
	cfg             domain.AutoencoderConfig
	scorePercentile float64
	rng             *rand.Rand

	// Weight layout: w1[h][in], b1[h], w2[out][h], b2[out].
	w1, w2    [][]float64
	b1, b2    []float64
	inputDim  int
	threshold float64
	fitted    bool
}

// NewAutoencoder creates an unfitted autoencoder.
func NewAutoencoder(cfg domain.AutoencoderConfig, scorePercentile float64) *Autoencoder {
	if cfg.HiddenUnits <= 0 {
		cfg.HiddenUnits = 16
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 50
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	return &Autoencoder{
		cfg:             cfg,
		scorePercentile: scorePercentile,
		rng:             rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Kind returns the detector kind.
func (a *Autoencoder) Kind() string { return domain.KindAutoencoder }

// Fit trains the network to reconstruct the training matrix and freezes
// the decision threshold from the training reconstruction errors.
func (a *Autoencoder) Fit(X [][]float64) error {
	if err := checkMatrix(X); err != nil {
		return err
	}

	a.inputDim = len(X[0])
	h := a.cfg.HiddenUnits
	scale := 1.0 / math.Sqrt(float64(a.inputDim))

	a.w1 = make([][]float64, h)
	a.b1 = make([]float64, h)
	for i := range a.w1 {
		a.w1[i] = make([]float64, a.inputDim)
		for j := range a.w1[i] {
			a.w1[i][j] = (a.rng.Float64()*2 - 1) * scale
		}
	}
	a.w2 = make([][]float64, a.inputDim)
	a.b2 = make([]float64, a.inputDim)
	for i := range a.w2 {
		a.w2[i] = make([]float64, h)
		for j := range a.w2[i] {
			a.w2[i][j] = (a.rng.Float64()*2 - 1) * scale
		}
	}

	lr := a.cfg.LearningRate
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < a.cfg.Epochs; epoch++ {
		a.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			x := X[idx]
			hidden, out := a.forward(x)

			// Output layer gradient, squared error loss.
			dOut := make([]float64, a.inputDim)
			for i := range dOut {
				dOut[i] = out[i] - x[i]
			}

			dHidden := make([]float64, h)
			for j := 0; j < h; j++ {
				var g float64
				for i := 0; i < a.inputDim; i++ {
					g += dOut[i] * a.w2[i][j]
				}
				dHidden[j] = g * (1 - hidden[j]*hidden[j])
			}

			for i := 0; i < a.inputDim; i++ {
				for j := 0; j < h; j++ {
					a.w2[i][j] -= lr * dOut[i] * hidden[j]
				}
				a.b2[i] -= lr * dOut[i]
			}
			for j := 0; j < h; j++ {
				for i := 0; i < a.inputDim; i++ {
					a.w1[j][i] -= lr * dHidden[j] * x[i]
				}
				a.b1[j] -= lr * dHidden[j]
			}
		}
	}
	a.fitted = true

	scores, err := a.Score(X)
	if err != nil {
		return err
	}
	a.threshold = percentile(scores, a.scorePercentile)
	return nil
}

func (a *Autoencoder) forward(x []float64) (hidden, out []float64) {
	h := a.cfg.HiddenUnits
	hidden = make([]float64, h)
	for j := 0; j < h; j++ {
		sum := a.b1[j]
		for i, v := range x {
			sum += a.w1[j][i] * v
		}
		hidden[j] = math.Tanh(sum)
	}
	out = make([]float64, a.inputDim)
	for i := 0; i < a.inputDim; i++ {
		sum := a.b2[i]
		for j := 0; j < h; j++ {
			sum += a.w2[i][j] * hidden[j]
		}
		out[i] = sum
	}
	return hidden, out
}

// Score returns the mean squared reconstruction error per row.
func (a *Autoencoder) Score(X [][]float64) ([]float64, error) {
	if !a.fitted {
		return nil, domain.ErrNotFitted
	}
	if err := checkMatrix(X); err != nil {
		return nil, err
	}
	scores := make([]float64, len(X))
	for i, x := range X {
		_, out := a.forward(x)
		var mse float64
		for j := range x {
			d := out[j] - x[j]
			mse += d * d
		}
		scores[i] = mse / float64(len(x))
	}
	return scores, nil
}

// Predict labels rows against the frozen threshold.
func (a *Autoencoder) Predict(X [][]float64) ([]int, error) {
	scores, err := a.Score(X)
	if err != nil {
		return nil, err
	}
	return thresholdPredict(scores, a.threshold), nil
}

type autoencoderState struct {
	Cfg             domain.AutoencoderConfig
	ScorePercentile float64
	W1, W2          [][]float64
	B1, B2          []float64
	InputDim        int
	Threshold       float64
}

// MarshalBinary serializes the fitted network.
func (a *Autoencoder) MarshalBinary() ([]byte, error) {
	if !a.fitted {
		return nil, domain.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(autoencoderState{
		Cfg:             a.cfg,
		ScorePercentile: a.scorePercentile,
		W1:              a.w1,
		W2:              a.w2,
		B1:              a.b1,
		B2:              a.b2,
		InputDim:        a.inputDim,
		Threshold:       a.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted network.
func (a *Autoencoder) UnmarshalBinary(data []byte) error {
	var st autoencoderState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	a.cfg = st.Cfg
	a.scorePercentile = st.ScorePercentile
	a.w1, a.w2 = st.W1, st.W2
	a.b1, a.b2 = st.B1, st.B2
	a.inputDim = st.InputDim
	a.threshold = st.Threshold
	a.rng = rand.New(rand.NewSource(st.Cfg.Seed))
	a.fitted = true
	return nil
}
