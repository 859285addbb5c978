// Package config holds the tunable parameters of the memory subsystem. The
// bootloader may hand the kernel a TOML document overriding the defaults;
// a missing or malformed document falls back to the defaults so that a bad
// config file cannot prevent the system from booting.
package config

import (
	"github.com/BurntSushi/toml"

	"vesper/kernel/klog"
)

var log = klog.Component("config")

// Config captures the memory-subsystem parameters read at bring-up.
type Config struct {
	// DirectMapBytes is the capacity of the direct-mapped physical memory
	// window. Physical memory beyond this capacity is usable but never
	// directly addressable. Must be a multiple of 1 GiB; zero disables
	// the direct mapping entirely.
	DirectMapBytes uint64 `toml:"direct_map_bytes"`

	// HeapBytes caps the kernel dynamic heap window. Zero means the whole
	// reserved heap region is available.
	HeapBytes uint64 `toml:"heap_bytes"`

	// TraceMemoryMap logs every bootloader memory-map entry during boot.
	TraceMemoryMap bool `toml:"trace_memory_map"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		DirectMapBytes: 4 << 30,
	}
}

// Parse decodes a TOML configuration document on top of the defaults.
// A nil or empty document yields the defaults; a malformed one is reported
// and otherwise ignored.
func Parse(data []byte) Config {
	cfg := Default()
	if len(data) == 0 {
		return cfg
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		log.Warnf("malformed config; using defaults: %v", err)
		return Default()
	}

	if cfg.DirectMapBytes%(1<<30) != 0 {
		rounded := cfg.DirectMapBytes &^ ((1 << 30) - 1)
		log.Warnf("direct_map_bytes %d is not a multiple of 1GiB; rounding down to %d", cfg.DirectMapBytes, rounded)
		cfg.DirectMapBytes = rounded
	}

	return cfg
}
