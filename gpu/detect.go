//go:build gpu

package gpu

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/openfluke/loom-embedding/envconfig"
)

// Detect probes the shared adapter and summarizes it.
func Detect() (*Report, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	info := c.Adapter.GetInfo()
	var feats []string
	for _, f := range c.Adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	runtimeName := "native"
	if runtime.GOOS == "js" {
		runtimeName = "wasm"
	}

	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     runtimeName,
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      c.Limits,
		BudgetBytes: envconfig.BudgetMB() * 1024 * 1024,
		Workgroup:   chooseWorkgroup(c.Limits),
		Features:    feats,
		Env:         envconfig.Values(),
	}, nil
}
