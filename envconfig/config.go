// Package envconfig reads the LOOM_* environment variables that tune how
// embedding layers are built and where they run.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogLevel returns the log level, configurable via LOOM_DEBUG.
// 0/false = INFO (default), 1/true = DEBUG, larger integers go further below DEBUG.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("LOOM_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// Device selects where lookups run: cpu (default) or webgpu.
	Device = String("LOOM_DEVICE")
	// DType selects the table precision: float32 (default), float16 or bfloat16.
	DType = String("LOOM_DTYPE")
	// BudgetMB is the soft GPU buffer budget in MiB.
	BudgetMB = Uint64("LOOM_BUDGET_MB", 128)
)

// Seed returns the initializer seed from LOOM_SEED. ok is false when the
// variable is unset or not an unsigned integer.
func Seed() (seed uint64, ok bool) {
	s := Var("LOOM_SEED")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		slog.Warn("invalid environment variable, ignoring", "key", "LOOM_SEED", "value", s)
		return 0, false
	}
	return n, true
}

// GPUTimeout bounds a single GPU readback, configurable via LOOM_GPU_TIMEOUT.
// Accepts a duration ("500ms") or whole seconds. Default: 2 seconds.
func GPUTimeout() time.Duration {
	timeout := 2 * time.Second
	if s := Var("LOOM_GPU_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			timeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			timeout = time.Duration(n) * time.Second
		}
	}
	if timeout <= 0 {
		return 2 * time.Second
	}
	return timeout
}

// String returns a getter for the string variable s.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint64 returns a getter for an unsigned variable with a default.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil || n == 0 {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar describes one variable for display.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every variable with its current value.
func AsMap() map[string]EnvVar {
	seed := any("")
	if s, ok := Seed(); ok {
		seed = s
	}
	return map[string]EnvVar{
		"LOOM_DEBUG":       {"LOOM_DEBUG", LogLevel(), "Show additional debug information (e.g. LOOM_DEBUG=1)"},
		"LOOM_DEVICE":      {"LOOM_DEVICE", Device(), "Device for table lookups: cpu or webgpu (default cpu)"},
		"LOOM_DTYPE":       {"LOOM_DTYPE", DType(), "Table precision: float32, float16 or bfloat16 (default float32)"},
		"LOOM_SEED":        {"LOOM_SEED", seed, "Seed for table initializers (default random)"},
		"LOOM_BUDGET_MB":   {"LOOM_BUDGET_MB", BudgetMB(), "Soft GPU buffer budget in MiB (default 128)"},
		"LOOM_GPU_TIMEOUT": {"LOOM_GPU_TIMEOUT", GPUTimeout(), "How long a GPU readback may take (default \"2s\")"},
	}
}

// Values returns every variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of leading and trailing
// quotes or spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
