// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	portName    string
	baudRate    int
	storagePath string
	dryRun      bool
	verbose     bool
	ledBackend  string
	gpioPin     int
)

var rootCmd = &cobra.Command{
	Use:   "bbsyncer",
	Short: "Blackbox flash syncer for Betaflight flight controllers",
	Long: `bbsyncer downloads a flight controller's internal blackbox flash over
serial USB, verifies it, saves it to local storage with an audit
manifest, and erases the FC flash once the copy is confirmed good.

  --port is auto-detected from /dev/ttyACM* if not given.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (auto-detected if omitted)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "Storage root for saved sessions (default /mnt/bbsyncer-logs)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Copy and verify but skip erasing the FC")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&ledBackend, "led-backend", "sysfs", `Indicator light backend: "sysfs" or "gpio"`)
	rootCmd.PersistentFlags().IntVar(&gpioPin, "gpio-pin", 0, `GPIO line number, only used when --led-backend=gpio`)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
