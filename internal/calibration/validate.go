package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is loose enough for matrices typed from a datasheet with
// three decimals.
const DefaultTolerance = 1e-3

// Report describes how far a mount matrix is from a proper rotation.
type Report struct {
	Det float64
	// MaxDeviation is the largest |(MᵀM - I)ij|.
	MaxDeviation float64
}

func (r Report) String() string {
	return fmt.Sprintf("det=%.6f max_orthogonality_error=%.6g", r.Det, r.MaxDeviation)
}

func (m MountMatrix) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

func Inspect(m MountMatrix) Report {
	d := m.dense()

	var gram mat.Dense
	gram.Mul(d.T(), d)

	maxDev := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if dev := math.Abs(gram.At(i, j) - want); dev > maxDev {
				maxDev = dev
			}
		}
	}
	return Report{Det: mat.Det(d), MaxDeviation: maxDev}
}

// Validate checks that m is orthogonal (MᵀM ≈ I) with determinant ≈ ±1.
// The engine never calls this on the hot path.
func Validate(m MountMatrix, tol float64) (Report, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	r := Inspect(m)
	if r.MaxDeviation > tol {
		return r, fmt.Errorf("mount matrix is not orthogonal (%s)", r)
	}
	if math.Abs(math.Abs(r.Det)-1) > tol {
		return r, fmt.Errorf("mount matrix determinant is not ±1 (%s)", r)
	}
	return r, nil
}

// ValidateStore runs Validate for every configured sensor and returns the
// first failure wrapped with the sensor name.
func ValidateStore(s *Store, tol float64) (map[SensorID]Report, error) {
	out := map[SensorID]Report{}
	var firstErr error
	for _, id := range s.Configured() {
		m, err := s.MountMatrix(id)
		if err != nil {
			return out, err
		}
		r, err := Validate(m, tol)
		out[id] = r
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", id, err)
		}
	}
	return out, firstErr
}
