//go:build !gpu

package gpu

import (
	"errors"
	"testing"

	"github.com/openfluke/loom-embedding/nn"
)

var _ nn.Backend = (*Backend)(nil)

func TestStubReportsNoGPU(t *testing.T) {
	if _, err := NewBackend(); !errors.Is(err, ErrNoGPU) {
		t.Errorf("NewBackend: expected ErrNoGPU, got %v", err)
	}
	if _, err := Detect(); !errors.Is(err, ErrNoGPU) {
		t.Errorf("Detect: expected ErrNoGPU, got %v", err)
	}
	var b Backend
	if _, err := b.Gather(nn.NewTensor[float32](2, 2), nn.NewTensorFromSlice([]int64{0})); !errors.Is(err, ErrNoGPU) {
		t.Errorf("Gather: expected ErrNoGPU, got %v", err)
	}
}
