package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUBackendGather(t *testing.T) {
	weight := NewTensorFromSlice([]float32{0, 1, 10, 11, 20, 21}, 3, 2)
	weight.DType = DTypeBFloat16

	b := NewCPUBackend()
	out, err := b.Gather(weight, NewTensorFromSlice([]int64{2, 1}, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, out.Shape)
	assert.Equal(t, []float32{20, 21, 10, 11}, out.Data)
	assert.Equal(t, DTypeBFloat16, out.DType)
	assert.Equal(t, DeviceCPU, out.Device)

	_, err = b.Gather(NewTensor[float32](6), NewTensorFromSlice([]int64{0}))
	assert.ErrorIs(t, err, ErrShape)
}

func TestAddInPlaceBroadcast(t *testing.T) {
	tests := []struct {
		name string
		src  *Tensor[float32]
		want []float32
	}{
		{
			name: "same shape",
			src:  NewTensorFromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, 2, 3, 2),
			want: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		},
		{
			name: "missing leading dim",
			src:  NewTensorFromSlice([]float32{1, 2, 3, 4, 5, 6}, 3, 2),
			want: []float32{1, 2, 3, 4, 5, 6, 1, 2, 3, 4, 5, 6},
		},
		{
			name: "leading dim of one",
			src:  NewTensorFromSlice([]float32{1, 2, 3, 4, 5, 6}, 1, 3, 2),
			want: []float32{1, 2, 3, 4, 5, 6, 1, 2, 3, 4, 5, 6},
		},
		{
			name: "middle dim of one",
			src:  NewTensorFromSlice([]float32{10, 20, 30, 40}, 2, 1, 2),
			want: []float32{10, 20, 10, 20, 10, 20, 30, 40, 30, 40, 30, 40},
		},
		{
			name: "row vector",
			src:  NewTensorFromSlice([]float32{1, -1}, 2),
			want: []float32{1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := NewTensor[float32](2, 3, 2)
			require.NoError(t, AddInPlace(dst, tt.src))
			assert.Equal(t, tt.want, dst.Data)
			assert.Equal(t, []int{2, 3, 2}, dst.Shape)
		})
	}
}

func TestAddInPlaceRejectsIncompatible(t *testing.T) {
	dst := NewTensor[float32](2, 3, 2)

	var se *ShapeError
	err := AddInPlace(dst, NewTensor[float32](5, 2))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "add", se.Op)
	assert.Equal(t, []int{5, 2}, se.Got)

	assert.ErrorIs(t, AddInPlace(dst, NewTensor[float32](1, 2, 3, 2)), ErrShape)
	assert.ErrorIs(t, AddInPlace(dst, NewTensor[float32](3, 3, 2)), ErrShape)
	assert.Equal(t, make([]float32, 12), dst.Data, "failed adds leave dst untouched")
}
