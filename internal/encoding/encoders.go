package encoding

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"neuralenv/internal/config"
	"neuralenv/internal/tensor"
)

const maxSphericalHarmonicsDegree = 4

// SphericalHarmonics evaluates the first degree bands (degree^2 terms) of the
// real SH basis. Inputs are unit directions remapped to [0,1].
type SphericalHarmonics struct {
	degree int
}

func NewSphericalHarmonics(nInputDims int, cfg config.Values) (Encoder, error) {
	if nInputDims != 3 {
		return nil, fmt.Errorf("%w: spherical harmonics need 3 input dims, got %d", config.ErrInvalid, nInputDims)
	}
	degree, err := cfg.Int("degree", 4)
	if err != nil {
		return nil, err
	}
	if degree < 1 || degree > maxSphericalHarmonicsDegree {
		return nil, fmt.Errorf("%w: degree must be in [1,%d], got %d", config.ErrInvalid, maxSphericalHarmonicsDegree, degree)
	}
	return SphericalHarmonics{degree: degree}, nil
}

func (s SphericalHarmonics) NInputDims() int  { return 3 }
func (s SphericalHarmonics) NOutputDims() int { return s.degree * s.degree }

func (s SphericalHarmonics) Encode(x *mat.Dense) (*mat.Dense, error) {
	return encodeRows(x, 3, s.NOutputDims(), func(in, out []float64) {
		shBasis(s.degree, in[0]*2-1, in[1]*2-1, in[2]*2-1, out)
	})
}

func shBasis(degree int, x, y, z float64, out []float64) {
	out[0] = 0.28209479177387814
	if degree <= 1 {
		return
	}
	out[1] = -0.48860251190291987 * y
	out[2] = 0.48860251190291987 * z
	out[3] = -0.48860251190291987 * x
	if degree <= 2 {
		return
	}
	xy, yz, xz := x*y, y*z, x*z
	x2, y2, z2 := x*x, y*y, z*z
	out[4] = 1.0925484305920792 * xy
	out[5] = -1.0925484305920792 * yz
	out[6] = 0.94617469575755997*z2 - 0.31539156525251999
	out[7] = -1.0925484305920792 * xz
	out[8] = 0.54627421529603959*x2 - 0.54627421529603959*y2
	if degree <= 3 {
		return
	}
	out[9] = 0.59004358992664352 * y * (-3.0*x2 + y2)
	out[10] = 2.8906114426405538 * xy * z
	out[11] = 0.45704579946446572 * y * (1.0 - 5.0*z2)
	out[12] = 0.3731763325901154 * z * (5.0*z2 - 3.0)
	out[13] = 0.45704579946446572 * x * (1.0 - 5.0*z2)
	out[14] = 1.4453057213202769 * z * (x2 - y2)
	out[15] = 0.59004358992664352 * x * (-x2 + 3.0*y2)
}

// Frequency emits sin and cos of 2^i*pi*x for every input dim and every
// frequency i, ordered dim-major with sin/cos interleaved.
type Frequency struct {
	nInput      int
	frequencies int
}

func NewFrequency(nInputDims int, cfg config.Values) (Encoder, error) {
	if nInputDims < 1 {
		return nil, fmt.Errorf("%w: frequency encoding needs positive input dims, got %d", config.ErrInvalid, nInputDims)
	}
	n, err := cfg.Int("n_frequencies", 12)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: n_frequencies must be positive, got %d", config.ErrInvalid, n)
	}
	return Frequency{nInput: nInputDims, frequencies: n}, nil
}

func (f Frequency) NInputDims() int  { return f.nInput }
func (f Frequency) NOutputDims() int { return f.nInput * f.frequencies * 2 }

func (f Frequency) Encode(x *mat.Dense) (*mat.Dense, error) {
	return encodeRows(x, f.nInput, f.NOutputDims(), func(in, out []float64) {
		for j := range out {
			dim := j / (f.frequencies * 2)
			log2Freq := (j / 2) % f.frequencies
			phase := float64(j%2) * math.Pi / 2
			out[j] = math.Sin(math.Ldexp(in[dim], log2Freq)*math.Pi + phase)
		}
	})
}

// Identity passes inputs through as x*scale + offset.
type Identity struct {
	nInput int
	scale  float64
	offset float64
}

func NewIdentity(nInputDims int, cfg config.Values) (Encoder, error) {
	if nInputDims < 1 {
		return nil, fmt.Errorf("%w: identity encoding needs positive input dims, got %d", config.ErrInvalid, nInputDims)
	}
	scale, err := cfg.Float("scale", 1)
	if err != nil {
		return nil, err
	}
	offset, err := cfg.Float("offset", 0)
	if err != nil {
		return nil, err
	}
	return Identity{nInput: nInputDims, scale: scale, offset: offset}, nil
}

func (e Identity) NInputDims() int  { return e.nInput }
func (e Identity) NOutputDims() int { return e.nInput }

func (e Identity) Encode(x *mat.Dense) (*mat.Dense, error) {
	return encodeRows(x, e.nInput, e.nInput, func(in, out []float64) {
		for i, v := range in {
			out[i] = v*e.scale + e.offset
		}
	})
}

type withXYZ struct {
	inner Encoder
}

func (w withXYZ) NInputDims() int  { return w.inner.NInputDims() }
func (w withXYZ) NOutputDims() int { return w.inner.NInputDims() + w.inner.NOutputDims() }

func (w withXYZ) Encode(x *mat.Dense) (*mat.Dense, error) {
	enc, err := w.inner.Encode(x)
	if err != nil {
		return nil, err
	}
	nIn := w.inner.NInputDims()
	rows, _ := x.Dims()
	out := mat.NewDense(rows, w.NOutputDims(), nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < nIn; c++ {
			out.Set(r, c, x.At(r, c)*2-1)
		}
		for c := 0; c < w.inner.NOutputDims(); c++ {
			out.Set(r, nIn+c, enc.At(r, c))
		}
	}
	return out, nil
}

func encodeRows(x *mat.Dense, nIn, nOut int, fn func(in, out []float64)) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != nIn {
		return nil, fmt.Errorf("%w: encoder expects %d input dims, got %d", tensor.ErrShape, nIn, cols)
	}
	out := mat.NewDense(rows, nOut, nil)
	in := make([]float64, nIn)
	for r := 0; r < rows; r++ {
		mat.Row(in, r, x)
		fn(in, out.RawRowView(r))
	}
	return out, nil
}
