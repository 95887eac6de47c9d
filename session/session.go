// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session owns the on-disk layout of one sync run: the
// timestamped session directory, the streaming flash-image writer, and
// the JSON manifest that seals it.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fieldsync/bbsyncer/fc"
)

const (
	rawFlashFilename = "raw_flash.bbl"
	manifestFilename = "manifest.json"
	manifestVersion  = 1
)

// FCInfo is the manifest's "fc" block (§3 Manifest).
type FCInfo struct {
	Variant        string `json:"variant"`
	UID            string `json:"uid"`
	APIVersion     string `json:"api_version"`
	BlackboxDevice int    `json:"blackbox_device"`
}

// FileInfo is the manifest's "file" block.
type FileInfo struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Manifest is the durable audit record written alongside raw_flash.bbl.
type Manifest struct {
	Version         int      `json:"version"`
	CreatedUTC      string   `json:"created_utc"`
	FC              FCInfo   `json:"fc"`
	File            FileInfo `json:"file"`
	EraseAttempted  bool     `json:"erase_attempted"`
	EraseCompleted  bool     `json:"erase_completed"`
}

// Session owns one sync run's on-disk state: the open flash-image file,
// its running hash, and the directory that holds it (§4.7).
type Session struct {
	Dir string

	file   *os.File
	sw *sha256Writer
}

// Open creates a new timestamped session directory under storageRoot
// for identity and opens raw_flash.bbl for append-only writing. The
// directory is created with exclusive semantics: a timestamp collision
// is a hard error rather than silently reusing the directory.
func Open(storageRoot string, identity *fc.Identity) (*Session, error) {
	uidShort := identity.UIDHex()
	if len(uidShort) > 8 {
		uidShort = uidShort[:8]
	}
	fcDir := filepath.Join(storageRoot, fmt.Sprintf("fc_%s_uid-%s", identity.Variant, uidShort))
	if err := os.MkdirAll(fcDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", fcDir, err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02_150405")
	dir := filepath.Join(fcDir, timestamp)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create session directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, rawFlashFilename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", rawFlashFilename, err)
	}

	return &Session{
		Dir:    dir,
		file:   f,
		sw:     newSHA256Writer(f),
	}, nil
}

// Write appends data to the flash image, updating the running hash.
func (s *Session) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := s.sw.Write(data)
	return err
}

// BytesWritten returns the number of bytes written so far.
func (s *Session) BytesWritten() int64 {
	return s.sw.n
}

// SHA256Hex returns the running hash of everything written so far.
func (s *Session) SHA256Hex() string {
	return hex.EncodeToString(s.sw.hasher.Sum(nil))
}

// Close flushes and fsyncs the flash image file.
func (s *Session) Close() error {
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("session: fsync %s: %w", rawFlashFilename, err)
	}
	return s.file.Close()
}

// Abort closes the flash image and deletes the whole session directory.
// Used when STREAM fails partway through (§4.8).
func (s *Session) Abort() error {
	s.file.Close()
	return os.RemoveAll(s.Dir)
}

// VerifyOnDisk rereads raw_flash.bbl from disk and compares its SHA-256
// against the running hash collected while writing (§4.7).
func (s *Session) VerifyOnDisk() (bool, string, error) {
	f, err := os.Open(filepath.Join(s.Dir, rawFlashFilename))
	if err != nil {
		return false, "", fmt.Errorf("session: reopen %s: %w", rawFlashFilename, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, "", fmt.Errorf("session: hash %s: %w", rawFlashFilename, err)
	}
	onDisk := hex.EncodeToString(h.Sum(nil))
	return onDisk == s.SHA256Hex(), onDisk, nil
}

// Seal writes manifest.json atomically: write to manifest.json.tmp,
// fsync, then rename over the final name (§4.7). The manifest must be
// durable before ERASE is issued.
func (s *Session) Seal(identity *fc.Identity, eraseAttempted, eraseCompleted bool) error {
	m := Manifest{
		Version:    manifestVersion,
		CreatedUTC: time.Now().UTC().Format(time.RFC3339),
		FC: FCInfo{
			Variant:        string(identity.Variant[:]),
			UID:            identity.UIDHex(),
			APIVersion:     fmt.Sprintf("%d.%d", identity.APIMajor, identity.APIMinor),
			BlackboxDevice: int(identity.BlackboxDevice),
		},
		File: FileInfo{
			Name:   rawFlashFilename,
			Bytes:  s.BytesWritten(),
			SHA256: s.SHA256Hex(),
		},
		EraseAttempted: eraseAttempted,
		EraseCompleted: eraseCompleted,
	}
	return writeManifestAtomic(s.Dir, &m)
}

func writeManifestAtomic(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal manifest: %w", err)
	}

	finalPath := filepath.Join(dir, manifestFilename)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("session: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("session: fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("session: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("session: rename %s to %s: %w", tmpPath, finalPath, err)
	}
	return nil
}

// RewriteEraseCompleted updates an already-sealed manifest's erase
// fields in place, used once POLL_EMPTY confirms the flash is clear.
func RewriteEraseCompleted(dir string, completed bool) error {
	path := filepath.Join(dir, manifestFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("session: parse %s: %w", path, err)
	}
	m.EraseAttempted = true
	m.EraseCompleted = completed
	return writeManifestAtomic(dir, &m)
}

// Listing describes one saved session found under a storage root, for
// the `sessions list` CLI subcommand.
type Listing struct {
	Path     string
	Manifest Manifest
}

// List enumerates every session with a valid manifest under
// storageRoot, newest first within each FC directory.
func List(storageRoot string) ([]Listing, error) {
	fcDirs, err := os.ReadDir(storageRoot)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", storageRoot, err)
	}

	var out []Listing
	for _, fcDir := range fcDirs {
		if !fcDir.IsDir() {
			continue
		}
		fcPath := filepath.Join(storageRoot, fcDir.Name())
		sessionDirs, err := os.ReadDir(fcPath)
		if err != nil {
			continue
		}
		sort.Slice(sessionDirs, func(i, j int) bool {
			return sessionDirs[i].Name() > sessionDirs[j].Name()
		})
		for _, sd := range sessionDirs {
			if !sd.IsDir() {
				continue
			}
			sessionPath := filepath.Join(fcPath, sd.Name())
			raw, err := os.ReadFile(filepath.Join(sessionPath, manifestFilename))
			if err != nil {
				continue
			}
			var m Manifest
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			out = append(out, Listing{Path: sessionPath, Manifest: m})
		}
	}
	return out, nil
}

// sha256Writer tees writes through a running SHA-256 hash.
type sha256Writer struct {
	w      io.Writer
	hasher interface {
		io.Writer
		Sum([]byte) []byte
	}
	n int64
}

func newSHA256Writer(w io.Writer) *sha256Writer {
	return &sha256Writer{w: w, hasher: sha256.New()}
}

func (s *sha256Writer) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if n > 0 {
		s.hasher.Write(p[:n])
		s.n += int64(n)
	}
	return n, err
}
