// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldsync/bbsyncer/config"
	"github.com/fieldsync/bbsyncer/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved sync sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions under the storage root",
	RunE:  runSessionsList,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	root := storagePath
	if root == "" {
		root = config.Default().StoragePath
	}

	listings, err := session.List(root)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if len(listings) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	for _, l := range listings {
		status := "incomplete"
		switch {
		case l.Manifest.EraseCompleted:
			status = "erased"
		case l.Manifest.EraseAttempted:
			status = "erase failed"
		case l.Manifest.File.SHA256 != "":
			status = "saved"
		}
		fmt.Printf("%s  fc=%s  uid=%s  bytes=%d  %s\n",
			l.Path, l.Manifest.FC.Variant, l.Manifest.FC.UID, l.Manifest.File.Bytes, status)
	}
	return nil
}
