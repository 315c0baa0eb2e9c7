//go:build gpu

package gpu

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Limits   Limits
	once     sync.Once
	err      error
}

var shared Context

// GetContext returns the singleton GPU context, initializing it on first use.
// Discrete NVIDIA adapters are preferred, then high performance, low power
// and finally the default adapter.
func GetContext() (*Context, error) {
	shared.once.Do(func() {
		shared.err = shared.init()
	})
	if shared.err != nil {
		return nil, shared.err
	}
	if shared.Device == nil || shared.Queue == nil {
		return nil, fmt.Errorf("webgpu device or queue not initialized")
	}
	return &shared, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create webgpu instance")
	}

	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		slog.Debug("webgpu adapter", "name", info.Name, "vendor", info.VendorName, "device_id", fmt.Sprintf("0x%X", info.DeviceId))
		if strings.Contains(strings.ToLower(info.Name), "nvidia") || strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			slog.Debug("webgpu adapter request failed", "error", err)
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	slog.Info("using webgpu adapter", "name", info.Name, "vendor", info.VendorName)

	supported := c.Adapter.GetLimits()
	c.Limits = Limits{
		MaxComputeInvocationsPerWorkgroup: supported.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          supported.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  supported.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       supported.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     supported.Limits.MaxBufferSize,
	}

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
