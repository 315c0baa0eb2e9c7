package nn

import (
	"fmt"
)

// Backend performs table lookups. Swapping the backend changes where the
// gather runs without changing layer code.
type Backend interface {
	// Name identifies the backend in logs and telemetry.
	Name() string

	// Device is the device tag attached to gathered tensors.
	Device() Device

	// Gather returns the rows of a 2-D weight addressed by ids, shaped
	// ids.Shape + [weight.Shape[1]]. Ids outside [0, weight.Shape[0]) are an
	// error wrapping ErrIndexOutOfRange.
	Gather(weight *Tensor[float32], ids *Tensor[int64]) (*Tensor[float32], error)
}

// =============================================================================
// CPUBackend Implementation
// =============================================================================

// CPUBackend gathers rows on the host.
type CPUBackend struct{}

// NewCPUBackend creates a new CPU backend.
func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string   { return "cpu" }
func (b *CPUBackend) Device() Device { return DeviceCPU }

// Gather copies the addressed weight rows into a new tensor.
func (b *CPUBackend) Gather(weight *Tensor[float32], ids *Tensor[int64]) (*Tensor[float32], error) {
	_, dim, err := CheckGather(weight, ids)
	if err != nil {
		return nil, err
	}

	out := NewTensor[float32](GatherShape(ids, dim)...)
	out.DType = weight.DType
	out.Device = b.Device()
	for i, id := range ids.Data {
		copy(out.Data[i*dim:(i+1)*dim], weight.Data[int(id)*dim:(int(id)+1)*dim])
	}
	return out, nil
}

// CheckGather validates a gather of ids from weight and returns the weight's
// row count and width.
func CheckGather(weight *Tensor[float32], ids *Tensor[int64]) (int, int, error) {
	if weight.Rank() != 2 {
		return 0, 0, &ShapeError{Op: "gather", Want: "2-D weight", Got: weight.Shape}
	}
	if err := weight.Validate(); err != nil {
		return 0, 0, err
	}
	if err := ids.Validate(); err != nil {
		return 0, 0, err
	}
	rows, dim := weight.Shape[0], weight.Shape[1]
	for i, id := range ids.Data {
		if id < 0 || id >= int64(rows) {
			return 0, 0, fmt.Errorf("%w: id %d at position %d not in [0, %d)", ErrIndexOutOfRange, id, i, rows)
		}
	}
	return rows, dim, nil
}

// GatherShape is the output shape of gathering dim-wide rows with ids.
func GatherShape(ids *Tensor[int64], dim int) []int {
	shape := make([]int, 0, ids.Rank()+1)
	shape = append(shape, ids.Shape...)
	return append(shape, dim)
}

// =============================================================================
// Broadcasting
// =============================================================================

// AddInPlace adds src into dst element-wise, broadcasting src against dst.
// Shapes are aligned from the trailing dimension; every src dimension must
// equal the matching dst dimension or be 1, and src may not have more
// dimensions than dst. The result always has dst's shape.
func AddInPlace(dst, src *Tensor[float32]) error {
	if src.Rank() > dst.Rank() {
		return &ShapeError{Op: "add", Want: fmt.Sprintf("at most rank %d broadcastable to %v", dst.Rank(), dst.Shape), Got: src.Shape}
	}

	// Per-dimension strides of src expressed in dst's rank, 0 where broadcast.
	offset := dst.Rank() - src.Rank()
	strides := make([]int, dst.Rank())
	stride := 1
	for i := src.Rank() - 1; i >= 0; i-- {
		sd, dd := src.Shape[i], dst.Shape[i+offset]
		switch {
		case sd == dd:
			strides[i+offset] = stride
		case sd == 1:
			strides[i+offset] = 0
		default:
			return &ShapeError{Op: "add", Want: fmt.Sprintf("broadcastable to %v", dst.Shape), Got: src.Shape}
		}
		stride *= sd
	}

	if equalShape(src.Shape, dst.Shape) {
		for i, v := range src.Data {
			dst.Data[i] += v
		}
		return nil
	}

	idx := make([]int, dst.Rank())
	si := 0
	for di := range dst.Data {
		dst.Data[di] += src.Data[si]
		// Advance the multi-index, carrying into outer dimensions.
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			si += strides[d]
			if idx[d] < dst.Shape[d] {
				break
			}
			si -= strides[d] * idx[d]
			idx[d] = 0
		}
	}
	return nil
}
