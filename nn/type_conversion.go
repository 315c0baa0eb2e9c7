package nn

import (
	"fmt"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// =============================================================================
// Precision and placement
// =============================================================================
// Embedding tables are stored as float32 on the host. A layer configured for
// a narrower precision rounds every stored value through that format, and the
// fixed positional table is rounded on every forward call so that the values
// it contributes match the precision of the word embeddings it is added to.

// DType is the numeric precision of embedding values.
type DType int

const (
	DTypeFloat32  DType = 0
	DTypeFloat16  DType = 1
	DTypeBFloat16 DType = 2
)

// StandardDTypes lists the supported precisions.
var StandardDTypes = []DType{DTypeFloat32, DTypeFloat16, DTypeBFloat16}

func (dt DType) String() string {
	switch dt {
	case DTypeFloat32:
		return "float32"
	case DTypeFloat16:
		return "float16"
	case DTypeBFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("dtype(%d)", int(dt))
	}
}

// SizeOf returns the storage size of one element in bytes.
func (dt DType) SizeOf() int {
	switch dt {
	case DTypeFloat16, DTypeBFloat16:
		return 2
	default:
		return 4
	}
}

// ParseDType converts a name ("float32", "f16", "bf16", ...) to a DType.
// The empty string selects float32.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "f32", "fp32":
		return DTypeFloat32, nil
	case "float16", "f16", "fp16", "half":
		return DTypeFloat16, nil
	case "bfloat16", "bf16":
		return DTypeBFloat16, nil
	default:
		return DTypeFloat32, fmt.Errorf("unsupported dtype %q", s)
	}
}

func (dt DType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *DType) UnmarshalText(text []byte) error {
	v, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*dt = v
	return nil
}

// Device names where a tensor's values were produced.
type Device string

const (
	DeviceCPU    Device = "cpu"
	DeviceWebGPU Device = "webgpu"
)

// ParseDevice converts a name to a Device. The empty string selects the CPU.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return DeviceCPU, nil
	case "webgpu", "gpu", "wgpu":
		return DeviceWebGPU, nil
	default:
		return DeviceCPU, fmt.Errorf("unsupported device %q", s)
	}
}

// RoundToDType rounds every value in data, in place, to the nearest value
// representable in dt.
func RoundToDType(data []float32, dt DType) {
	switch dt {
	case DTypeFloat16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case DTypeBFloat16:
		copy(data, bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(data)))
	}
}

// To relocates a float32 tensor to device at precision dt. The receiver is
// returned unchanged when it already matches; otherwise a rounded copy is
// made.
func (t *Tensor[T]) To(device Device, dt DType) *Tensor[T] {
	if t.Device == device && t.DType == dt {
		return t
	}
	out := t.Clone()
	out.Device = device
	if out.DType != dt {
		if f32, ok := any(out.Data).([]float32); ok {
			RoundToDType(f32, dt)
		}
		out.DType = dt
	}
	return out
}
