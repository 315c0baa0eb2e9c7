package gpu

import (
	"encoding/json"
	"math"
)

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Limits      Limits            `json:"limits"`
	BudgetBytes uint64            `json:"budget_bytes"`
	Workgroup   uint32            `json:"workgroup_x"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

// Limits are the adapter limits that bound a gather.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// JSON renders the report indented.
func (r *Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// chooseWorkgroup picks the largest conservative 1-D workgroup the limits allow.
func chooseWorkgroup(l Limits) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// fits reports whether a buffer of size bytes fits the binding limit and budget.
func (l Limits) fits(size, budget uint64) bool {
	if l.MaxStorageBufferBindingSize > 0 && size > l.MaxStorageBufferBindingSize {
		return false
	}
	if l.MaxBufferSize > 0 && size > l.MaxBufferSize {
		return false
	}
	return budget == 0 || size <= budget
}

// dispatch returns the 1-D workgroup count covering n invocations, and false
// when it exceeds MaxComputeWorkgroupsPerDimension. A zero limit is unknown.
func (l Limits) dispatch(n int, workgroup uint32) (uint32, bool) {
	count := (uint64(n) + uint64(workgroup) - 1) / uint64(workgroup)
	if count > math.MaxUint32 {
		return 0, false
	}
	if l.MaxComputeWorkgroupsPerDimension > 0 && count > uint64(l.MaxComputeWorkgroupsPerDimension) {
		return 0, false
	}
	return uint32(count), true
}
