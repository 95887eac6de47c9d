// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fieldsync/bbsyncer/config"
	bbsignal "github.com/fieldsync/bbsyncer/signal"
	"github.com/fieldsync/bbsyncer/syncer"
	"github.com/fieldsync/bbsyncer/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download, verify, and erase the attached FC's blackbox flash",
	Long: `Runs the full sync workflow: identify the flight controller, read its
dataflash over MSP, verify the copy's SHA-256, save it with an audit
manifest, and erase the FC flash once the copy is confirmed good.

Exits 0 on a completed or already-empty sync, non-zero on any error.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	port := portName
	if port == "" {
		detected, err := transport.AutoDetectPort()
		if err != nil {
			return fmt.Errorf("no --port given and auto-detect failed: %w", err)
		}
		port = detected
		log.Printf("auto-detected serial port: %s", port)
	}

	cfg := config.FromFlags(port, storagePath, dryRun, verbose).
		WithBaud(baudRate).
		WithLEDBackend(ledBackend, gpioPin)

	logger := log.New(os.Stderr, "bbsyncer: ", log.LstdFlags)

	backend, err := newSignalBackend(cfg)
	if err != nil {
		return err
	}
	if starter, ok := backend.(interface{ Start() error }); ok {
		if err := starter.Start(); err != nil {
			return fmt.Errorf("signal backend start: %w", err)
		}
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	led := bbsignal.NewDriver(backend)
	led.Start()
	defer func() {
		led.WaitIdle(10 * time.Second)
		led.Stop()
	}()

	orc := syncer.New(cfg, led, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			logger.Printf("received interrupt, cancelling sync")
			orc.Cancel()
		}
	}()

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	var bar *progressbar.ProgressBar
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case <-time.After(200 * time.Millisecond):
				if !isTTY {
					continue
				}
				st := orc.Status()
				if st.State == syncer.StateStream {
					if bar == nil {
						bar = progressbar.NewOptions(100,
							progressbar.OptionSetDescription("streaming flash"),
							progressbar.OptionShowCount(),
						)
					}
					bar.Set(st.Progress)
				}
			}
		}
	}()

	result, err := orc.Run(context.Background(), port)
	close(done)
	<-stopped
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	if err != nil {
		return err
	}

	switch result {
	case syncer.ResultSuccess, syncer.ResultAlreadyEmpty, syncer.ResultDryRun:
		fmt.Printf("sync finished: %s\n", result)
		return nil
	default:
		return fmt.Errorf("sync failed")
	}
}

// newSignalBackend builds the signal.Backend named by cfg.LEDBackend.
func newSignalBackend(cfg config.Config) (bbsignal.Backend, error) {
	switch cfg.LEDBackend {
	case "", "sysfs":
		return bbsignal.NewSysfsBackend("/sys/class/leds/led0", "mmc0"), nil
	case "gpio":
		return bbsignal.NewGPIOBackend(cfg.GPIOPin)
	default:
		return nil, fmt.Errorf("unknown --led-backend %q", cfg.LEDBackend)
	}
}
