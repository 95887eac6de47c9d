// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package diskspace

import "testing"

func TestFreeBytesOnTempDir(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected nonzero free space on a writable temp directory")
	}
}

func TestFreeMBIsFreeBytesDividedDown(t *testing.T) {
	dir := t.TempDir()
	b, err := FreeBytes(dir)
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	mb, err := FreeMB(dir)
	if err != nil {
		t.Fatalf("FreeMB: %v", err)
	}
	if mb != b/(1024*1024) {
		t.Fatalf("FreeMB = %d, want %d", mb, b/(1024*1024))
	}
}

func TestHasSpaceAgainstAnUnreasonableMinimum(t *testing.T) {
	dir := t.TempDir()
	ok, err := HasSpace(dir, 1)
	if err != nil {
		t.Fatalf("HasSpace: %v", err)
	}
	if !ok {
		t.Fatal("expected at least 1MB free on a temp directory")
	}

	ok, err = HasSpace(dir, ^uint32(0))
	if err != nil {
		t.Fatalf("HasSpace: %v", err)
	}
	if ok {
		t.Fatal("expected HasSpace to fail against an unreasonably large minimum")
	}
}

func TestFreeBytesErrorsOnMissingPath(t *testing.T) {
	if _, err := FreeBytes("/nonexistent/bbsyncer-diskspace-test-path"); err == nil {
		t.Fatal("expected an error for a nonexistent path")
	}
}
