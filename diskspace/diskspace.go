// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package diskspace checks free space on the storage filesystem before
// a sync run is allowed to start.
package diskspace

import "golang.org/x/sys/unix"

// FreeBytes returns the bytes available to an unprivileged process on
// the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// FreeMB is FreeBytes expressed in whole megabytes, rounded down.
func FreeMB(path string) (uint64, error) {
	b, err := FreeBytes(path)
	if err != nil {
		return 0, err
	}
	return b / (1024 * 1024), nil
}

// HasSpace reports whether path has at least minFreeMB megabytes free.
func HasSpace(path string, minFreeMB uint32) (bool, error) {
	free, err := FreeMB(path)
	if err != nil {
		return false, err
	}
	return free >= uint64(minFreeMB), nil
}
