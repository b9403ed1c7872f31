package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a dense row-major float64 array. The last axis is the feature
// axis; every leading axis is a batch axis.
type Tensor struct {
	shape []int
	data  []float64
}

// New wraps data with the given shape. The slice is retained, not copied.
func New(data []float64, shape ...int) (Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return Tensor{}, err
	}
	if len(data) != n {
		return Tensor{}, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return Tensor{shape: cloneInts(shape), data: data}, nil
}

func MustNew(data []float64, shape ...int) Tensor {
	t, err := New(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func Zeros(shape ...int) Tensor {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return Tensor{shape: cloneInts(shape), data: make([]float64, n)}
}

// FromRows builds an N x D tensor. Every row must have the same width.
func FromRows(rows [][]float64) (Tensor, error) {
	if len(rows) == 0 {
		return Tensor{}, fmt.Errorf("%w: no rows", ErrShape)
	}
	width := len(rows[0])
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return Tensor{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(row), width)
		}
		data = append(data, row...)
	}
	return Tensor{shape: []int{len(rows), width}, data: data}, nil
}

// Broadcast replicates vec at every position of batch, giving batch x len(vec).
func Broadcast(vec []float64, batch []int) Tensor {
	n, err := numel(batch)
	if err != nil {
		panic(err)
	}
	data := make([]float64, 0, n*len(vec))
	for i := 0; i < n; i++ {
		data = append(data, vec...)
	}
	return Tensor{shape: append(cloneInts(batch), len(vec)), data: data}
}

func (t Tensor) Shape() []int { return cloneInts(t.shape) }

func (t Tensor) Rank() int { return len(t.shape) }

func (t Tensor) Len() int { return len(t.data) }

// Data returns the backing slice.
func (t Tensor) Data() []float64 { return t.data }

// LastDim is the size of the feature axis, or 0 for a scalar.
func (t Tensor) LastDim() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[len(t.shape)-1]
}

// Batch returns the leading dimensions.
func (t Tensor) Batch() []int {
	if len(t.shape) == 0 {
		return nil
	}
	return cloneInts(t.shape[:len(t.shape)-1])
}

// BatchSize is the product of the leading dimensions (1 for a single vector).
func (t Tensor) BatchSize() int {
	n, _ := numel(t.Batch())
	return n
}

// Reshape returns a view with a new shape. At most one dimension may be -1
// and is inferred from the element count.
func (t Tensor) Reshape(shape ...int) (Tensor, error) {
	resolved := cloneInts(shape)
	infer := -1
	known := 1
	for i, d := range resolved {
		switch {
		case d == -1:
			if infer >= 0 {
				return Tensor{}, fmt.Errorf("%w: more than one inferred dimension in %v", ErrShape, shape)
			}
			infer = i
		case d < 0:
			return Tensor{}, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return Tensor{}, fmt.Errorf("%w: cannot view %d values as %v", ErrShape, len(t.data), shape)
		}
		resolved[infer] = len(t.data) / known
		known *= resolved[infer]
	}
	if known != len(t.data) {
		return Tensor{}, fmt.Errorf("%w: cannot view %d values as %v", ErrShape, len(t.data), shape)
	}
	return Tensor{shape: resolved, data: t.data}, nil
}

// Row returns a copy of the i-th feature vector of the flattened batch.
func (t Tensor) Row(i int) []float64 {
	d := t.LastDim()
	out := make([]float64, d)
	copy(out, t.data[i*d:(i+1)*d])
	return out
}

// Rows copies the tensor out as N x D.
func (t Tensor) Rows() [][]float64 {
	n := t.BatchSize()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = t.Row(i)
	}
	return rows
}

// Map applies fn element-wise into a new tensor.
func (t Tensor) Map(fn func(float64) float64) Tensor {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = fn(v)
	}
	return Tensor{shape: cloneInts(t.shape), data: out}
}

// Matrix flattens the batch into an N x D matrix holding a copy of the data.
func (t Tensor) Matrix() (*mat.Dense, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("%w: scalar has no feature axis", ErrShape)
	}
	n, d := t.BatchSize(), t.LastDim()
	if n == 0 || d == 0 {
		return nil, fmt.Errorf("%w: empty matrix %dx%d", ErrShape, n, d)
	}
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return mat.NewDense(n, d, data), nil
}

// FromMatrix reshapes an N x D matrix back to batch x D.
func FromMatrix(m mat.Matrix, batch []int) (Tensor, error) {
	n, err := numel(batch)
	if err != nil {
		return Tensor{}, err
	}
	r, c := m.Dims()
	if r != n {
		return Tensor{}, fmt.Errorf("%w: %d rows for batch %v", ErrShape, r, batch)
	}
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		mat.Row(data[i*c:(i+1)*c], i, m)
	}
	return Tensor{shape: append(cloneInts(batch), c), data: data}, nil
}

func numel(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

func cloneInts(values []int) []int {
	out := make([]int, len(values))
	copy(out, values)
	return out
}
