package detector

import (
	"bytes"
	"encoding/gob"
	"math"

	"github.com/opensource-security/shrike/internal/domain"
)

// OneClassSVM learns a minimal hypersphere around the training data in
// feature space. The anomaly score is the Euclidean distance from the
// centroid; the boundary radius is set so that roughly a nu fraction of
// the training samples falls outside it.
type OneClassSVM struct {
	nu float64

	centroid []float64
	radius   float64
	fitted   bool
}

// NewOneClassSVM creates an unfitted one-class SVM.
func NewOneClassSVM(cfg domain.OneClassSVMConfig) *OneClassSVM {
	nu := cfg.Nu
	if nu <= 0 || nu >= 1 {
		nu = 0.1
	}
	return &OneClassSVM{nu: nu}
}

// Kind returns the detector kind.
func (s *OneClassSVM) Kind() string { return domain.KindOneClassSVM }

// Fit computes the centroid and freezes the boundary radius at the
// (1-nu) percentile of the training distances.
func (s *OneClassSVM) Fit(X [][]float64) error {
	if err := checkMatrix(X); err != nil {
		return err
	}

	dims := len(X[0])
	s.centroid = make([]float64, dims)
	for _, row := range X {
		for j, v := range row {
			s.centroid[j] += v
		}
	}
	for j := range s.centroid {
		s.centroid[j] /= float64(len(X))
	}

	dists := make([]float64, len(X))
	for i, row := range X {
		dists[i] = s.distance(row)
	}
	s.radius = percentile(dists, 100*(1-s.nu))
	s.fitted = true
	return nil
}

func (s *OneClassSVM) distance(row []float64) float64 {
	var sum float64
	for j, v := range row {
		d := v - s.centroid[j]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Score returns the distance to the centroid per row.
func (s *OneClassSVM) Score(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}
	if err := checkMatrix(X); err != nil {
		return nil, err
	}
	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = s.distance(row)
	}
	return scores, nil
}

// Predict labels rows outside the boundary radius as anomalies.
func (s *OneClassSVM) Predict(X [][]float64) ([]int, error) {
	scores, err := s.Score(X)
	if err != nil {
		return nil, err
	}
	return thresholdPredict(scores, s.radius), nil
}

type svmState struct {
	Nu       float64
	Centroid []float64
	Radius   float64
}

// MarshalBinary serializes the fitted model.
func (s *OneClassSVM) MarshalBinary() ([]byte, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(svmState{Nu: s.nu, Centroid: s.centroid, Radius: s.radius})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted model.
func (s *OneClassSVM) UnmarshalBinary(data []byte) error {
	var st svmState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.nu = st.Nu
	s.centroid = st.Centroid
	s.radius = st.Radius
	s.fitted = true
	return nil
}
