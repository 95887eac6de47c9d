// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signal

import (
	"fmt"
	"os"
)

// SysfsBackend drives a sysfs LED class device (e.g. the Pi's built-in
// ACT LED at /sys/class/leds/led0). Its trigger is disabled on Start so
// the kernel stops driving brightness on its own.
type SysfsBackend struct {
	brightnessPath string
	triggerPath    string
	restoreTrigger string
}

// NewSysfsBackend targets the LED class device at ledDir (typically
// /sys/class/leds/led0). restoreTrigger is written back to the trigger
// file on Close, matching whatever the device used before (the Pi's
// ACT LED defaults to "mmc0").
func NewSysfsBackend(ledDir, restoreTrigger string) *SysfsBackend {
	return &SysfsBackend{
		brightnessPath: ledDir + "/brightness",
		triggerPath:    ledDir + "/trigger",
		restoreTrigger: restoreTrigger,
	}
}

// Start disables the LED's automatic trigger so Set can drive it directly.
func (b *SysfsBackend) Start() error {
	return os.WriteFile(b.triggerPath, []byte("none"), 0o644)
}

// Close restores the original trigger.
func (b *SysfsBackend) Close() error {
	if b.restoreTrigger == "" {
		return nil
	}
	return os.WriteFile(b.triggerPath, []byte(b.restoreTrigger), 0o644)
}

// Set writes brightness 1 (on) or 0 (off). Write failures are
// tolerated: a disconnected LED must not abort a sync.
func (b *SysfsBackend) Set(on bool) error {
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	_ = os.WriteFile(b.brightnessPath, value, 0o644)
	return nil
}

// GPIOBackend drives a single GPIO line through the kernel's sysfs
// GPIO interface (/sys/class/gpio/gpioN/{direction,value}). No GPIO
// library appears anywhere in this codebase's dependency surface, so
// this talks to the kernel interface directly rather than pull one in
// for a single pin toggle.
type GPIOBackend struct {
	pin       int
	valuePath string
}

// NewGPIOBackend exports pin (if not already exported) and configures
// it as an output.
func NewGPIOBackend(pin int) (*GPIOBackend, error) {
	base := fmt.Sprintf("/sys/class/gpio/gpio%d", pin)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			return nil, fmt.Errorf("signal: export gpio%d: %w", pin, err)
		}
	}
	if err := os.WriteFile(base+"/direction", []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("signal: set gpio%d direction: %w", pin, err)
	}
	return &GPIOBackend{pin: pin, valuePath: base + "/value"}, nil
}

// Set writes 1 (on) or 0 (off) to the GPIO's value file.
func (b *GPIOBackend) Set(on bool) error {
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	return os.WriteFile(b.valuePath, value, 0o644)
}

// Close unexports the GPIO line.
func (b *GPIOBackend) Close() error {
	return os.WriteFile("/sys/class/gpio/unexport", []byte(fmt.Sprintf("%d", b.pin)), 0o644)
}
