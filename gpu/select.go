package gpu

import "github.com/openfluke/loom-embedding/nn"

// BackendFor returns the lookup backend for device.
func BackendFor(device nn.Device) (nn.Backend, error) {
	if device == nn.DeviceWebGPU {
		b, err := NewBackend()
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nn.NewCPUBackend(), nil
}
