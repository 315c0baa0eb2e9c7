package nn

import (
	"fmt"
	"math"
	"strings"
)

// =============================================================================
// Generic Tensor
// =============================================================================

// Numeric is the set of element types a Tensor can hold.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Tensor is a dense, row-major, host-resident n-dimensional array.
//
// DType and Device describe where the values are considered to live and at
// which precision they were produced. They are metadata only: Data always
// holds T values in host memory.
type Tensor[T Numeric] struct {
	Data   []T
	Shape  []int
	DType  DType
	Device Device
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor[T Numeric](shape ...int) *Tensor[T] {
	return &Tensor[T]{
		Data:   make([]T, Numel(shape)),
		Shape:  append([]int(nil), shape...),
		DType:  DTypeFloat32,
		Device: DeviceCPU,
	}
}

// NewTensorFromSlice wraps data (without copying) as a tensor of the given shape.
// If no shape is given the tensor is 1-D with len(data) elements.
func NewTensorFromSlice[T Numeric](data []T, shape ...int) *Tensor[T] {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return &Tensor[T]{
		Data:   data,
		Shape:  append([]int(nil), shape...),
		DType:  DTypeFloat32,
		Device: DeviceCPU,
	}
}

// Size returns the number of elements.
func (t *Tensor[T]) Size() int {
	return len(t.Data)
}

// Rank returns the number of dimensions.
func (t *Tensor[T]) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of dimension n. Negative n counts from the end.
func (t *Tensor[T]) Dim(n int) int {
	if n < 0 {
		n += len(t.Shape)
	}
	return t.Shape[n]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor[T]) Clone() *Tensor[T] {
	data := make([]T, len(t.Data))
	copy(data, t.Data)
	return &Tensor[T]{
		Data:   data,
		Shape:  append([]int(nil), t.Shape...),
		DType:  t.DType,
		Device: t.Device,
	}
}

// Reshape returns a view sharing Data with a new shape, or nil when the
// element counts differ. A single -1 dimension is inferred.
func (t *Tensor[T]) Reshape(shape ...int) *Tensor[T] {
	shape = append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer == -1:
			infer = i
		case d < 0:
			return nil
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil
		}
		shape[infer] = len(t.Data) / known
		known *= shape[infer]
	}
	if known != len(t.Data) {
		return nil
	}
	return &Tensor[T]{Data: t.Data, Shape: shape, DType: t.DType, Device: t.Device}
}

// Row returns a slice aliasing row i of a 2-D tensor.
func (t *Tensor[T]) Row(i int) ([]T, error) {
	if len(t.Shape) != 2 {
		return nil, &ShapeError{Op: "row", Want: "rank 2", Got: t.Shape}
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("%w: row %d not in [0, %d)", ErrIndexOutOfRange, i, t.Shape[0])
	}
	w := t.Shape[1]
	return t.Data[i*w : (i+1)*w], nil
}

// Equal reports whether two tensors have identical shape and bit-identical data.
func (t *Tensor[T]) Equal(other *Tensor[T]) bool {
	if !equalShape(t.Shape, other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

func (t *Tensor[T]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(shape=%v, dtype=%s, device=%s", t.Shape, t.DType, t.Device)
	if len(t.Data) <= 16 {
		fmt.Fprintf(&sb, ", data=%v", t.Data)
	}
	sb.WriteString(")")
	return sb.String()
}

// Validate reports a ShapeError when a dimension is negative or the shape
// does not describe exactly len(Data) elements.
func (t *Tensor[T]) Validate() error {
	for _, d := range t.Shape {
		if d < 0 {
			return &ShapeError{Op: "tensor", Want: "non-negative dimensions", Got: t.Shape}
		}
	}
	if n := Numel(t.Shape); n != len(t.Data) {
		return &ShapeError{Op: "tensor", Want: fmt.Sprintf("shape describing %d elements", len(t.Data)), Got: t.Shape}
	}
	return nil
}

// =============================================================================
// Index coercion
// =============================================================================

// Indexer is anything that can be coerced into a tensor of row indices.
// Every *Tensor[T] satisfies it.
type Indexer interface {
	AsIndices() (*Tensor[int64], error)
}

// AsIndices converts the tensor to int64 indices. Integer tensors are copied
// as-is, floating point values truncate toward zero. NaN and infinite values
// cannot be used as indices.
func (t *Tensor[T]) AsIndices() (*Tensor[int64], error) {
	if t == nil {
		return nil, nil
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if ids, ok := any(t).(*Tensor[int64]); ok {
		return ids, nil
	}
	out := &Tensor[int64]{
		Data:   make([]int64, len(t.Data)),
		Shape:  append([]int(nil), t.Shape...),
		DType:  t.DType,
		Device: t.Device,
	}
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite index %v at %d", ErrIndexOutOfRange, f, i)
		}
		out.Data[i] = int64(v)
	}
	return out, nil
}

// =============================================================================
// Shape helpers
// =============================================================================

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
