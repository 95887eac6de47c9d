// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldsync/bbsyncer/fc"
)

func testIdentity() *fc.Identity {
	id := &fc.Identity{
		APIMajor:       1,
		APIMinor:       46,
		BlackboxDevice: fc.BlackboxDeviceSPIFlash,
	}
	copy(id.Variant[:], "BTFL")
	copy(id.UID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return id
}

func TestOpenWriteCloseVerify(t *testing.T) {
	root := t.TempDir()
	sess, err := Open(root, testIdentity())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := []byte("blackbox flash contents go here")
	if err := sess.Write(payload[:10]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.Write(payload[10:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sess.BytesWritten() != int64(len(payload)) {
		t.Fatalf("BytesWritten = %d, want %d", sess.BytesWritten(), len(payload))
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	match, onDisk, err := sess.VerifyOnDisk()
	if err != nil {
		t.Fatalf("VerifyOnDisk: %v", err)
	}
	if !match {
		t.Fatalf("VerifyOnDisk mismatch: running=%s onDisk=%s", sess.SHA256Hex(), onDisk)
	}
}

func TestSessionDirectoryLayout(t *testing.T) {
	root := t.TempDir()
	id := testIdentity()
	sess, err := Open(root, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	fcDir := filepath.Join(root, "fc_BTFL_uid-"+id.UIDHex()[:8])
	if _, err := os.Stat(fcDir); err != nil {
		t.Fatalf("expected fc directory %s to exist: %v", fcDir, err)
	}
	if filepath.Dir(sess.Dir) != fcDir {
		t.Fatalf("session dir %s not nested under %s", sess.Dir, fcDir)
	}
}

func TestSealWriteAndRewriteEraseCompleted(t *testing.T) {
	root := t.TempDir()
	id := testIdentity()
	sess, err := Open(root, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Write([]byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := sess.Seal(id, true, false); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(sess.Dir, manifestFilename))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if m.FC.Variant != "BTFL" || m.FC.APIVersion != "1.46" {
		t.Fatalf("unexpected manifest fc block: %+v", m.FC)
	}
	if !m.EraseAttempted || m.EraseCompleted {
		t.Fatalf("unexpected erase flags: %+v", m)
	}

	if err := RewriteEraseCompleted(sess.Dir, true); err != nil {
		t.Fatalf("RewriteEraseCompleted: %v", err)
	}
	raw, err = os.ReadFile(filepath.Join(sess.Dir, manifestFilename))
	if err != nil {
		t.Fatalf("read manifest after rewrite: %v", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal manifest after rewrite: %v", err)
	}
	if !m.EraseCompleted {
		t.Fatal("EraseCompleted should be true after RewriteEraseCompleted(true)")
	}
}

func TestOpenRejectsTimestampCollision(t *testing.T) {
	root := t.TempDir()
	id := testIdentity()
	sess, err := Open(root, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	// Pre-create the session directories Open would pick over the next
	// few seconds, so the second Open's timestamp is certain to collide.
	fcDir := filepath.Dir(sess.Dir)
	now := time.Now().UTC()
	for i := 0; i <= 2; i++ {
		name := now.Add(time.Duration(i) * time.Second).Format("2006-01-02_150405")
		if err := os.Mkdir(filepath.Join(fcDir, name), 0o755); err != nil && !os.IsExist(err) {
			t.Fatalf("setup: %v", err)
		}
	}
	if _, err := Open(root, id); err == nil {
		t.Fatal("expected Open to fail on an existing session directory")
	}
}

func TestListFindsSealedSessions(t *testing.T) {
	root := t.TempDir()
	id := testIdentity()
	sess, err := Open(root, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Seal(id, false, false); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	listings, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].Manifest.File.Bytes != 1 {
		t.Fatalf("unexpected file size in listing: %+v", listings[0].Manifest.File)
	}
}

func TestListSkipsDirsWithoutManifest(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "fc_BTFL_uid-deadbeef", "2026-01-01_000000"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	listings, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("got %d listings, want 0 for a session with no manifest", len(listings))
	}
}

func TestAbortRemovesSessionDirectory(t *testing.T) {
	root := t.TempDir()
	sess, err := Open(root, testIdentity())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	dir := sess.Dir
	if err := sess.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected session directory to be removed, stat err = %v", err)
	}
}
