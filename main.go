// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Command bbsyncer downloads a flight controller's internal blackbox
// flash over serial USB, verifies it, stores it with an audit
// manifest, and erases the FC flash once the copy is confirmed good.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fieldsync/bbsyncer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps err to its §7 process exit code. Error kinds raised by
// fc, mspclient, and syncer each satisfy this interface; anything else
// (flag parsing, cobra usage errors) falls back to 1.
func exitCode(err error) int {
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}
