// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the runtime settings for a sync run: serial
// parameters, storage limits, pipeline tuning, and timeouts.
package config

import "time"

// Config collects every tunable the orchestrator and its collaborators
// need. There is no file loader: values come from defaults overridden
// by CLI flags, set up in FromFlags.
type Config struct {
	SerialPort string
	SerialBaud int

	StoragePath     string
	MinFreeSpaceMB  uint32

	EraseAfterSync bool
	ChunkSizeBytes uint32
	PipelineDepth  uint8

	// RequestTimeout bounds a single non-streaming MSP request/response
	// round trip (API_VERSION, FC_VARIANT, UID, DATAFLASH_ERASE, ...).
	RequestTimeout time.Duration
	// ChunkTimeout bounds the wait for a single DATAFLASH_READ response
	// during the pipelined stream (§5 Timeouts); it is independent of
	// RequestTimeout because the stream keeps several requests
	// in flight at once and tolerates a run of resends.
	ChunkTimeout time.Duration
	// FullSyncTimeout bounds the entire IDENTIFY..POLL_EMPTY sequence. If it
	// elapses the orchestrator cancels the run the same way Cancel does,
	// but reports FullSyncTimeoutError instead of CancelledError.
	FullSyncTimeout       time.Duration
	EraseTimeout          time.Duration
	EraseLockPollInterval time.Duration

	DryRun  bool
	Verbose bool

	// LEDBackend selects the signal.Backend implementation: "sysfs"
	// (default, the Pi's onboard LED class device) or "gpio" (a
	// single discrete GPIO line named by GPIOPin).
	LEDBackend string
	GPIOPin    int
}

// Default returns the baseline config, matching §6's documented
// defaults before any flag overrides are applied.
func Default() Config {
	return Config{
		SerialBaud:            115200,
		StoragePath:           "/mnt/bbsyncer-logs",
		MinFreeSpaceMB:        200,
		EraseAfterSync:        true,
		ChunkSizeBytes:        16384,
		PipelineDepth:         2,
		RequestTimeout:        2 * time.Second,
		ChunkTimeout:          3 * time.Second,
		FullSyncTimeout:       10 * time.Minute,
		EraseTimeout:          120 * time.Second,
		EraseLockPollInterval: 2 * time.Second,
		LEDBackend:            "sysfs",
	}
}

// FromFlags builds a Config from explicit overrides, leaving any zero
// value to fall back to Default. portName and dryRun/verbose come
// straight from the CLI's persistent flags.
func FromFlags(portName string, storagePath string, dryRun, verbose bool) Config {
	cfg := Default()
	cfg.SerialPort = portName
	if storagePath != "" {
		cfg.StoragePath = storagePath
	}
	cfg.DryRun = dryRun
	cfg.Verbose = verbose
	return cfg
}

// WithBaud overrides the serial baud rate set by FromFlags/Default.
// Split out from FromFlags so callers that don't care about baud
// (tests, other entry points) aren't forced to pass it.
func (c Config) WithBaud(baud int) Config {
	if baud > 0 {
		c.SerialBaud = baud
	}
	return c
}

// WithLEDBackend overrides the LED backend selection and, for "gpio",
// the pin it drives.
func (c Config) WithLEDBackend(backend string, gpioPin int) Config {
	if backend != "" {
		c.LEDBackend = backend
	}
	c.GPIOPin = gpioPin
	return c
}
