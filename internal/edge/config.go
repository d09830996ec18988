// Package edge tunes the Go runtime for small hosts and watches heap
// pressure so the service can shed writes before it is OOM-killed.
package edge

import (
	"runtime"
	"runtime/debug"
	"time"
)

// ---------------------------------------------------------------------------
// Memory Mode Configuration
// ---------------------------------------------------------------------------

// MemoryMode selects a preset for heap limits and GC pacing.
type MemoryMode int

const (
	// MemoryModeNormal leaves the runtime defaults alone. Suitable for 1GB+ RAM.
	MemoryModeNormal MemoryMode = iota

	// MemoryModeReduced caps the heap at 512MB and collects more often.
	MemoryModeReduced

	// MemoryModeAggressive caps the heap at 256MB, one P, frequent GC.
	MemoryModeAggressive
)

func (m MemoryMode) String() string {
	switch m {
	case MemoryModeNormal:
		return "normal"
	case MemoryModeReduced:
		return "reduced"
	case MemoryModeAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseMemoryMode parses a memory mode string. Unknown values are normal.
func ParseMemoryMode(s string) MemoryMode {
	switch s {
	case "reduced":
		return MemoryModeReduced
	case "aggressive":
		return MemoryModeAggressive
	default:
		return MemoryModeNormal
	}
}

// MarshalText renders the mode for YAML and JSON.
func (m MemoryMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses the mode from YAML and JSON.
func (m *MemoryMode) UnmarshalText(b []byte) error {
	*m = ParseMemoryMode(string(b))
	return nil
}

// ---------------------------------------------------------------------------
// Runtime Configuration
// ---------------------------------------------------------------------------

// Config holds runtime tuning and the pressure thresholds.
type Config struct {
	MemoryMode    MemoryMode    `yaml:"memory_mode"`
	MemoryLimitMB int           `yaml:"memory_limit_mb"` // hard limit handed to the runtime, 0 = none
	SoftLimitMB   int           `yaml:"soft_limit_mb"`   // critical threshold
	GCPercent     int           `yaml:"gc_percent"`
	MaxProcs      int           `yaml:"max_procs"`
	CheckInterval time.Duration `yaml:"check_interval"`

	// RejectWrites makes ShouldRejectWrites report true at critical pressure.
	RejectWrites bool `yaml:"reject_writes"`
}

// DefaultConfig returns settings for a normal host.
func DefaultConfig() Config {
	return Config{
		MemoryMode:    MemoryModeNormal,
		MemoryLimitMB: 0,
		SoftLimitMB:   768,
		GCPercent:     100,
		CheckInterval: 5 * time.Second,
		RejectWrites:  true,
	}
}

// ReducedMemoryConfig returns settings for a 512MB host.
func ReducedMemoryConfig() Config {
	return Config{
		MemoryMode:    MemoryModeReduced,
		MemoryLimitMB: 512,
		SoftLimitMB:   384,
		GCPercent:     50,
		CheckInterval: 3 * time.Second,
		RejectWrites:  true,
	}
}

// AggressiveMemoryConfig returns settings for a 256MB host.
func AggressiveMemoryConfig() Config {
	return Config{
		MemoryMode:    MemoryModeAggressive,
		MemoryLimitMB: 256,
		SoftLimitMB:   180,
		GCPercent:     25,
		MaxProcs:      1,
		CheckInterval: 2 * time.Second,
		RejectWrites:  true,
	}
}

// Preset returns the defaults for mode.
func Preset(mode MemoryMode) Config {
	switch mode {
	case MemoryModeReduced:
		return ReducedMemoryConfig()
	case MemoryModeAggressive:
		return AggressiveMemoryConfig()
	default:
		return DefaultConfig()
	}
}

// Apply applies the configuration to the runtime.
func (c Config) Apply() {
	if c.MaxProcs > 0 {
		runtime.GOMAXPROCS(c.MaxProcs)
	}
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}
	if c.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(c.MemoryLimitMB) * 1024 * 1024)
	}
}
