//go:build !gpu

package gpu

import "github.com/openfluke/loom-embedding/nn"

// Backend is unavailable without the gpu build tag.
type Backend struct{}

// NewBackend always fails with ErrNoGPU.
func NewBackend() (*Backend, error) { return nil, ErrNoGPU }

func (*Backend) Name() string      { return "webgpu" }
func (*Backend) Device() nn.Device { return nn.DeviceWebGPU }

func (*Backend) Gather(*nn.Tensor[float32], *nn.Tensor[int64]) (*nn.Tensor[float32], error) {
	return nil, ErrNoGPU
}

func (*Backend) Release() {}

// Detect always fails with ErrNoGPU.
func Detect() (*Report, error) { return nil, ErrNoGPU }
