package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{
		"":         DTypeFloat32,
		"float32":  DTypeFloat32,
		"FP16":     DTypeFloat16,
		"half":     DTypeFloat16,
		"bf16":     DTypeBFloat16,
		"bfloat16": DTypeBFloat16,
	} {
		got, err := ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDType("int8")
	assert.Error(t, err)

	var dt DType
	require.NoError(t, dt.UnmarshalText([]byte("float16")))
	assert.Equal(t, DTypeFloat16, dt)
	b, err := DTypeBFloat16.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "bfloat16", string(b))
	assert.Equal(t, 2, DTypeFloat16.SizeOf())
	assert.Equal(t, 4, DTypeFloat32.SizeOf())
}

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("GPU")
	require.NoError(t, err)
	assert.Equal(t, DeviceWebGPU, d)
	d, err = ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, d)
	_, err = ParseDevice("cuda")
	assert.Error(t, err)
}

func TestRoundToDType(t *testing.T) {
	in := []float32{1.0 / 3.0, 1, -2.5, 1e-3}

	f32 := append([]float32(nil), in...)
	RoundToDType(f32, DTypeFloat32)
	assert.Equal(t, in, f32)

	f16 := append([]float32(nil), in...)
	RoundToDType(f16, DTypeFloat16)
	for i, v := range f16 {
		assert.Equal(t, v, float16.Fromfloat32(v).Float32(), "float16 rounding is idempotent at %d", i)
		assert.InDelta(t, in[i], v, math.Abs(float64(in[i]))*1e-3, "value %d", i)
	}
	assert.Equal(t, float32(1), f16[1])

	bf16 := append([]float32(nil), in...)
	RoundToDType(bf16, DTypeBFloat16)
	for i, v := range bf16 {
		assert.Zero(t, math.Float32bits(v)&0xffff, "bfloat16 keeps only the upper half at %d", i)
		assert.InDelta(t, in[i], v, math.Abs(float64(in[i]))*1e-2, "value %d", i)
	}
	assert.Equal(t, float32(-2.5), bf16[2])
}

func TestTensorTo(t *testing.T) {
	src := NewTensorFromSlice([]float32{1.0 / 3.0, 2}, 2)

	assert.Same(t, src, src.To(DeviceCPU, DTypeFloat32))

	moved := src.To(DeviceWebGPU, DTypeFloat16)
	assert.NotSame(t, src, moved)
	assert.Equal(t, DeviceWebGPU, moved.Device)
	assert.Equal(t, DTypeFloat16, moved.DType)
	assert.Equal(t, float32(0.33325195), moved.Data[0])
	assert.Equal(t, float32(1.0/3.0), src.Data[0], "source is untouched")

	ints := NewTensorFromSlice([]int64{3}, 1)
	assert.Equal(t, []int64{3}, ints.To(DeviceCPU, DTypeBFloat16).Data)
}
