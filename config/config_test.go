// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import "testing"

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	if cfg.SerialBaud != 115200 {
		t.Errorf("SerialBaud = %d, want 115200", cfg.SerialBaud)
	}
	if cfg.StoragePath != "/mnt/bbsyncer-logs" {
		t.Errorf("StoragePath = %q, want /mnt/bbsyncer-logs", cfg.StoragePath)
	}
	if cfg.MinFreeSpaceMB != 200 {
		t.Errorf("MinFreeSpaceMB = %d, want 200", cfg.MinFreeSpaceMB)
	}
	if !cfg.EraseAfterSync {
		t.Error("EraseAfterSync should default to true")
	}
	if cfg.ChunkSizeBytes != 16384 {
		t.Errorf("ChunkSizeBytes = %d, want 16384", cfg.ChunkSizeBytes)
	}
	if cfg.PipelineDepth != 2 {
		t.Errorf("PipelineDepth = %d, want 2", cfg.PipelineDepth)
	}
	if cfg.LEDBackend != "sysfs" {
		t.Errorf("LEDBackend = %q, want sysfs", cfg.LEDBackend)
	}
}

func TestFromFlagsOverridesStorageAndLeavesRestDefaulted(t *testing.T) {
	cfg := FromFlags("/dev/ttyACM0", "/mnt/custom", true, true)
	if cfg.SerialPort != "/dev/ttyACM0" {
		t.Errorf("SerialPort = %q, want /dev/ttyACM0", cfg.SerialPort)
	}
	if cfg.StoragePath != "/mnt/custom" {
		t.Errorf("StoragePath = %q, want /mnt/custom", cfg.StoragePath)
	}
	if !cfg.DryRun || !cfg.Verbose {
		t.Error("DryRun and Verbose should reflect the flags passed in")
	}
	if cfg.SerialBaud != 115200 {
		t.Errorf("SerialBaud should stay at the default, got %d", cfg.SerialBaud)
	}
}

func TestFromFlagsEmptyStorageKeepsDefault(t *testing.T) {
	cfg := FromFlags("/dev/ttyACM0", "", false, false)
	if cfg.StoragePath != Default().StoragePath {
		t.Errorf("StoragePath = %q, want default %q", cfg.StoragePath, Default().StoragePath)
	}
}

func TestWithBaudOverridesOnlyWhenPositive(t *testing.T) {
	cfg := Default().WithBaud(57600)
	if cfg.SerialBaud != 57600 {
		t.Errorf("SerialBaud = %d, want 57600", cfg.SerialBaud)
	}

	cfg2 := Default().WithBaud(0)
	if cfg2.SerialBaud != 115200 {
		t.Errorf("SerialBaud = %d, want untouched default 115200", cfg2.SerialBaud)
	}
}

func TestWithLEDBackendOverridesBackendAndPin(t *testing.T) {
	cfg := Default().WithLEDBackend("gpio", 17)
	if cfg.LEDBackend != "gpio" {
		t.Errorf("LEDBackend = %q, want gpio", cfg.LEDBackend)
	}
	if cfg.GPIOPin != 17 {
		t.Errorf("GPIOPin = %d, want 17", cfg.GPIOPin)
	}

	cfg2 := Default().WithLEDBackend("", 0)
	if cfg2.LEDBackend != "sysfs" {
		t.Errorf("LEDBackend = %q, want untouched default sysfs", cfg2.LEDBackend)
	}
}
