package kalman

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// QDiscreteWhiteNoise returns the process noise for a discretized white
// noise acceleration model of the given dimension (2, 3 or 4), scaled by
// variance. With blockSize > 1 the matrix is repeated along the diagonal,
// so the state is expected to be ordered by dimension (x, x', y, y', ...).
func QDiscreteWhiteNoise(dim int, dt, variance float64, blockSize int) (*mat.Dense, error) {
	if blockSize < 1 {
		return nil, errors.Errorf("invalid block size %d", blockSize)
	}

	var q []float64
	switch dim {
	case 2:
		q = []float64{
			.25 * pow(dt, 4), .5 * pow(dt, 3),
			.5 * pow(dt, 3), pow(dt, 2),
		}
	case 3:
		q = []float64{
			.25 * pow(dt, 4), .5 * pow(dt, 3), .5 * pow(dt, 2),
			.5 * pow(dt, 3), pow(dt, 2), dt,
			.5 * pow(dt, 2), dt, 1,
		}
	case 4:
		q = []float64{
			pow(dt, 6) / 36, pow(dt, 5) / 12, pow(dt, 4) / 6, pow(dt, 3) / 6,
			pow(dt, 5) / 12, pow(dt, 4) / 4, pow(dt, 3) / 2, pow(dt, 2) / 2,
			pow(dt, 4) / 6, pow(dt, 3) / 2, pow(dt, 2), dt,
			pow(dt, 3) / 6, pow(dt, 2) / 2, dt, 1,
		}
	default:
		return nil, errors.Errorf("dim must be between 2 and 4, got %d", dim)
	}

	n := dim * blockSize
	out := mat.NewDense(n, n, nil)
	for b := 0; b < blockSize; b++ {
		off := b * dim
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				out.Set(off+i, off+j, q[i*dim+j]*variance)
			}
		}
	}
	return out, nil
}

func pow(v float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= v
	}
	return r
}
