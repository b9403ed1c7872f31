package encoding

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"

	"neuralenv/internal/config"
	"neuralenv/internal/tensor"
)

func TestSphericalHarmonicsDims(t *testing.T) {
	for degree := 1; degree <= 4; degree++ {
		enc, err := New(3, config.Values{"otype": "SphericalHarmonics", "degree": degree})
		if err != nil {
			t.Fatalf("degree %d: %v", degree, err)
		}
		if got := enc.NOutputDims(); got != degree*degree {
			t.Fatalf("degree %d: got %d outputs", degree, got)
		}
	}
}

func TestSphericalHarmonicsOnZAxis(t *testing.T) {
	enc, err := New(3, config.Values{"otype": "SphericalHarmonics", "degree": 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// (0,0,1) remapped to [0,1] space.
	out, err := enc.Encode(mat.NewDense(1, 3, []float64{0.5, 0.5, 1}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []float64{
		0.28209479177387814,
		0, 0.48860251190291987, 0,
		0, 0, 0.94617469575755997 - 0.31539156525251999, 0, 0,
	}
	if diff := cmp.Diff(want, out.RawRowView(0), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("basis mismatch (-want +got):\n%s", diff)
	}
}

func TestSphericalHarmonicsDegreeFourBand(t *testing.T) {
	enc, err := New(3, config.Values{"otype": "SphericalHarmonics", "degree": 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// (1,0,0) remapped.
	out, err := enc.Encode(mat.NewDense(1, 3, []float64{1, 0.5, 0.5}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	row := out.RawRowView(0)
	if math.Abs(row[3]+0.48860251190291987) > 1e-12 {
		t.Fatalf("unexpected l=1 x term: %f", row[3])
	}
	if math.Abs(row[8]-0.54627421529603959) > 1e-12 {
		t.Fatalf("unexpected l=2 x2-y2 term: %f", row[8])
	}
	if math.Abs(row[15]+0.59004358992664352) > 1e-12 {
		t.Fatalf("unexpected l=3 x term: %f", row[15])
	}
}

func TestSphericalHarmonicsValidation(t *testing.T) {
	if _, err := New(3, config.Values{"otype": "SphericalHarmonics", "degree": 9}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for degree, got: %v", err)
	}
	if _, err := New(2, config.Values{"otype": "SphericalHarmonics", "degree": 3}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for 2 dims, got: %v", err)
	}
	enc, err := New(3, config.Values{"otype": "SphericalHarmonics", "degree": 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := enc.Encode(mat.NewDense(1, 2, nil)); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("expected ErrShape, got: %v", err)
	}
}

func TestFrequencyLayout(t *testing.T) {
	enc, err := New(3, config.Values{"otype": "Frequency", "n_frequencies": 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if enc.NOutputDims() != 12 {
		t.Fatalf("unexpected dims: %d", enc.NOutputDims())
	}
	x := []float64{0.25, 0, 0.5}
	out, err := enc.Encode(mat.NewDense(1, 3, x))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var want []float64
	for _, v := range x {
		for i := 0; i < 2; i++ {
			arg := v * math.Pow(2, float64(i)) * math.Pi
			want = append(want, math.Sin(arg), math.Cos(arg))
		}
	}
	if diff := cmp.Diff(want, out.RawRowView(0), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("frequency mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentityWithIncludeXYZ(t *testing.T) {
	enc, err := New(3, config.Values{"otype": "Identity", "scale": 2, "offset": 1, "include_xyz": true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if enc.NOutputDims() != 6 {
		t.Fatalf("unexpected dims: %d", enc.NOutputDims())
	}
	out, err := enc.Encode(mat.NewDense(1, 3, []float64{0, 0.5, 1}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []float64{-1, 0, 1, 1, 2, 3}
	if diff := cmp.Diff(want, out.RawRowView(0)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(3, config.Values{"otype": "HashGrid"}); !errors.Is(err, ErrEncodingNotFound) {
		t.Fatalf("expected ErrEncodingNotFound, got: %v", err)
	}
	if _, err := New(3, config.Values{}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing otype, got: %v", err)
	}
	if _, err := New(3, config.Values{"otype": "Frequency", "n_frequencies": "many"}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for bad n_frequencies, got: %v", err)
	}
}

func TestRegisterDuplicateAndList(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	if err := Register("Identity", NewIdentity); !errors.Is(err, ErrEncodingExists) {
		t.Fatalf("expected ErrEncodingExists, got: %v", err)
	}
	if err := RegisterWithSpec(Spec{Name: "x", Factory: NewIdentity, SchemaVersion: 1, CodecVersion: 3}); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
	if err := Register("", NewIdentity); err == nil {
		t.Fatal("expected empty name error")
	}
	want := []string{"Frequency", "Identity", "SphericalHarmonics"}
	if diff := cmp.Diff(want, List()); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}
