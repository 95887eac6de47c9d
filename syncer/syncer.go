// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package syncer drives the ten-step state machine that takes an
// attached flight controller from "identify" through a verified,
// erased blackbox flash (§4.8).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fieldsync/bbsyncer/config"
	"github.com/fieldsync/bbsyncer/diskspace"
	"github.com/fieldsync/bbsyncer/fc"
	"github.com/fieldsync/bbsyncer/mspclient"
	"github.com/fieldsync/bbsyncer/pkg/msp"
	"github.com/fieldsync/bbsyncer/session"
	"github.com/fieldsync/bbsyncer/signal"
	"github.com/fieldsync/bbsyncer/transport"
)

// Result is the outcome of one Run.
type Result int

const (
	ResultSuccess Result = iota
	ResultAlreadyEmpty
	ResultDryRun
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultAlreadyEmpty:
		return "already_empty"
	case ResultDryRun:
		return "dry_run"
	default:
		return "error"
	}
}

// State names the orchestrator's current step, for status reporting.
type State string

const (
	StateIdentify      State = "identify"
	StateSummary       State = "summary"
	StateCheckDisk     State = "check_disk"
	StateOpenSession   State = "open_session"
	StateStream        State = "stream"
	StateVerify        State = "verify"
	StateWriteManifest State = "write_manifest"
	StateErase         State = "erase"
	StatePollEmpty     State = "poll_empty"
	StateDone          State = "done"
)

// Status is a snapshot of orchestrator progress, safe to read
// concurrently while a sync is running (consumed by the TUI watcher).
type Status struct {
	State    State
	Progress int // 0-100, meaningful during StateStream
}

// SerialOpenError reports that the serial port could not be opened:
// the device node is missing or another process already holds it.
type SerialOpenError struct {
	Port string
	Err  error
}

func (e *SerialOpenError) Error() string {
	return fmt.Sprintf("syncer: open %s: %v", e.Port, e.Err)
}
func (e *SerialOpenError) Unwrap() error { return e.Err }

// ExitCode maps SerialOpenError to its §7 process exit code.
func (e *SerialOpenError) ExitCode() int { return 2 }

// SerialIOError reports a transport failure discovered mid-session,
// once the port was opened successfully (as opposed to SerialOpenError).
type SerialIOError struct {
	Err error
}

func (e *SerialIOError) Error() string { return fmt.Sprintf("syncer: serial I/O: %v", e.Err) }
func (e *SerialIOError) Unwrap() error { return e.Err }

// ExitCode maps SerialIOError to its §7 process exit code.
func (e *SerialIOError) ExitCode() int { return 3 }

// InsufficientSpaceError reports that CHECK_DISK found less free space
// than the projected flash image plus the configured safety margin.
type InsufficientSpaceError struct {
	HaveMB uint64
	NeedMB uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("syncer: insufficient space: have %d MB, need %d MB", e.HaveMB, e.NeedMB)
}

// ExitCode maps InsufficientSpaceError to its §7 process exit code.
func (e *InsufficientSpaceError) ExitCode() int { return 8 }

// VerifyMismatchError reports that the SHA-256 computed while streaming
// does not match the hash of the bytes reread from disk. The session
// directory is retained for inspection and ERASE is never reached.
type VerifyMismatchError struct {
	Expected string
	Actual   string
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("syncer: sha256 mismatch: expected %s, on-disk %s", e.Expected, e.Actual)
}

// ExitCode maps VerifyMismatchError to its §7 process exit code.
func (e *VerifyMismatchError) ExitCode() int { return 9 }

// EraseTimeoutError reports that the FC still reported non-zero used
// flash after EraseTimeout elapsed. The manifest is left with
// erase_completed=false.
type EraseTimeoutError struct {
	Timeout time.Duration
}

func (e *EraseTimeoutError) Error() string {
	return fmt.Sprintf("syncer: flash did not report empty within %s", e.Timeout)
}

// ExitCode maps EraseTimeoutError to its §7 process exit code.
func (e *EraseTimeoutError) ExitCode() int { return 10 }

// CancelledError reports that Cancel was asserted while a sync was in
// progress.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "syncer: cancelled" }

// ExitCode maps CancelledError to its §7 process exit code.
func (e *CancelledError) ExitCode() int { return 11 }

// FullSyncTimeoutError reports that the overall FullSyncTimeout elapsed
// before the workflow reached DONE.
type FullSyncTimeoutError struct{}

func (e *FullSyncTimeoutError) Error() string { return "syncer: full sync timeout exceeded" }

// ExitCode maps FullSyncTimeoutError to its §7 process exit code.
func (e *FullSyncTimeoutError) ExitCode() int { return 12 }

// verifyOnDisk rereads the session's flash image and compares its
// hash against the one collected while streaming. Replaced in tests to
// simulate on-disk corruption without racing the filesystem.
var verifyOnDisk = func(sess *session.Session) (bool, string, error) {
	return sess.VerifyOnDisk()
}

// cancellationError classifies a ctx-derived error into the typed kind
// a caller should report, or returns nil if err isn't one.
func cancellationError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &CancelledError{}
	case errors.Is(err, context.DeadlineExceeded):
		return &FullSyncTimeoutError{}
	default:
		return nil
	}
}

// Orchestrator runs the sync workflow against one attached FC.
type Orchestrator struct {
	cfg    config.Config
	signal *signal.Driver
	logger *log.Logger

	statusMu sync.RWMutex
	status   Status

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates an orchestrator bound to cfg and a signal driver. logger
// may be nil, in which case log.Default() is used.
func New(cfg config.Config, sig *signal.Driver, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{cfg: cfg, signal: sig, logger: logger}
}

// Status returns the most recent progress snapshot.
func (o *Orchestrator) Status() Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

func (o *Orchestrator) setStatus(state State, progress int) {
	o.statusMu.Lock()
	o.status = Status{State: state, Progress: progress}
	o.statusMu.Unlock()
}

func (o *Orchestrator) emit(e signal.Event) {
	if o.signal != nil {
		o.signal.Emit(e)
	}
}

// Cancel asserts the orchestrator's single cancellation trigger (§5
// Concurrency & Resource Model): the in-flight Run stops issuing new
// requests, abandons its pipeline window, closes and retains its
// session file, writes an error manifest, and emits Error. Calling
// Cancel before Run starts or after it has returned is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the full ten-step workflow against the FC at portName.
// ctx bounds the whole run in addition to whatever FullSyncTimeout adds;
// cancelling ctx or calling Cancel both stop the run the same way.
func (o *Orchestrator) Run(ctx context.Context, portName string) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}()

	fullSyncTimeout := o.cfg.FullSyncTimeout
	if fullSyncTimeout <= 0 {
		fullSyncTimeout = config.Default().FullSyncTimeout
	}
	timeoutCtx, timeoutCancel := context.WithTimeout(runCtx, fullSyncTimeout)
	defer timeoutCancel()

	result, err := o.run(timeoutCtx, portName)
	if err != nil {
		o.logger.Printf("sync failed: %v", err)
		o.emit(signal.Error)
		o.setStatus(StateDone, 0)
	}
	return result, err
}

// wrapErr classifies err for the step named by label: a cancellation or
// full-sync timeout becomes the matching typed error, an error that
// already carries an exit code (from fc or mspclient) is wrapped
// unchanged, and anything else is treated as a serial transport
// failure discovered mid-session.
func (o *Orchestrator) wrapErr(step string, err error) error {
	if cerr := cancellationError(err); cerr != nil {
		return cerr
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w", step, &SerialIOError{Err: err})
}

func (o *Orchestrator) run(ctx context.Context, portName string) (Result, error) {
	o.setStatus(StateIdentify, 0)
	o.logger.Printf("step 1/10: identifying FC on %s", portName)

	t, err := transport.Open(portName, o.cfg.SerialBaud)
	if err != nil {
		return ResultError, &SerialOpenError{Port: portName, Err: err}
	}
	defer t.Close()

	return o.runSession(ctx, t)
}

// runSession executes steps 1-10 against an already-open transport.
// Split out from run so tests can drive the workflow against a fake
// Port via transport.FromPort instead of a real serial device.
func (o *Orchestrator) runSession(ctx context.Context, t *transport.Transport) (Result, error) {
	c := mspclient.New(t, msp.V1)

	identity, err := fc.Identify(ctx, c, o.cfg.RequestTimeout)
	if err != nil {
		return ResultError, o.wrapErr("IDENTIFY", err)
	}
	o.logger.Printf("FC identified: variant=%s uid=%s api=%d.%d", identity.Variant, identity.UIDHex(), identity.APIMajor, identity.APIMinor)

	o.setStatus(StateSummary, 0)
	o.logger.Printf("step 2/10: querying flash state")
	summary, err := fc.GetSummary(ctx, c, o.cfg.RequestTimeout)
	if err != nil {
		return ResultError, o.wrapErr("SUMMARY", err)
	}
	o.logger.Printf("flash: used=%d total=%d compression=%v", summary.UsedSize, summary.TotalSize, summary.SupportsCompression)

	if summary.UsedSize == 0 {
		o.logger.Printf("flash is empty, nothing to sync")
		o.emit(signal.Empty)
		o.setStatus(StateDone, 100)
		return ResultAlreadyEmpty, nil
	}

	o.setStatus(StateCheckDisk, 0)
	o.logger.Printf("step 3/10: checking storage")
	requiredMB := uint64(summary.UsedSize/(1024*1024)) + uint64(o.cfg.MinFreeSpaceMB)
	haveMB, err := diskspace.FreeMB(o.cfg.StoragePath)
	if err != nil {
		return ResultError, fmt.Errorf("CHECK_DISK: %w", err)
	}
	if haveMB < requiredMB {
		return ResultError, &InsufficientSpaceError{HaveMB: haveMB, NeedMB: requiredMB}
	}

	o.setStatus(StateOpenSession, 0)
	o.logger.Printf("step 4/10: opening session")
	sess, err := session.Open(o.cfg.StoragePath, identity)
	if err != nil {
		return ResultError, fmt.Errorf("OPEN_SESSION: %w", err)
	}

	o.setStatus(StateStream, 0)
	o.logger.Printf("step 5/10: streaming %d bytes", summary.UsedSize)
	o.emit(signal.CopyStart)

	chunkTimeout := o.cfg.ChunkTimeout
	if chunkTimeout <= 0 {
		chunkTimeout = config.Default().ChunkTimeout
	}

	streamErr := c.ReadFlashPipelined(
		ctx,
		summary.UsedSize,
		o.cfg.ChunkSizeBytes,
		o.cfg.PipelineDepth,
		summary.SupportsCompression,
		chunkTimeout,
		func(chunk mspclient.Chunk) error {
			if err := sess.Write(chunk.Data); err != nil {
				return err
			}
			progress := int(sess.BytesWritten() * 100 / int64(summary.UsedSize))
			o.setStatus(StateStream, progress)
			return nil
		},
	)
	if streamErr != nil {
		if cerr := cancellationError(streamErr); cerr != nil {
			// Cancellation retains the partial file rather than
			// discarding it: close it, write an error manifest, and
			// report the cancellation instead of an ordinary STREAM
			// failure.
			if closeErr := sess.Close(); closeErr != nil {
				o.logger.Printf("warning: failed to close session after cancellation: %v", closeErr)
			}
			if sealErr := sess.Seal(identity, false, false); sealErr != nil {
				o.logger.Printf("warning: failed to write manifest after cancellation: %v", sealErr)
			}
			return ResultError, cerr
		}
		sess.Abort()
		return ResultError, fmt.Errorf("STREAM: %w", streamErr)
	}
	if err := sess.Close(); err != nil {
		return ResultError, fmt.Errorf("STREAM: %w", err)
	}
	o.logger.Printf("stream complete: %d bytes written", sess.BytesWritten())

	o.setStatus(StateVerify, 0)
	o.logger.Printf("step 6/10: verifying integrity")
	o.emit(signal.VerifyStart)

	if sess.BytesWritten() != int64(summary.UsedSize) {
		return ResultError, fmt.Errorf("VERIFY: wrote %d bytes, expected %d", sess.BytesWritten(), summary.UsedSize)
	}
	match, onDiskHash, err := verifyOnDisk(sess)
	if err != nil {
		return ResultError, fmt.Errorf("VERIFY: %w", err)
	}
	if !match {
		if sealErr := sess.Seal(identity, false, false); sealErr != nil {
			o.logger.Printf("warning: failed to write manifest after verify mismatch: %v", sealErr)
		}
		return ResultError, &VerifyMismatchError{Expected: sess.SHA256Hex(), Actual: onDiskHash}
	}
	o.logger.Printf("integrity OK: sha256=%s", onDiskHash)

	o.setStatus(StateWriteManifest, 0)
	o.logger.Printf("step 7/10: writing manifest")
	if err := sess.Seal(identity, false, false); err != nil {
		return ResultError, fmt.Errorf("WRITE_MANIFEST: %w", err)
	}

	if o.cfg.DryRun {
		o.logger.Printf("dry run: skipping erase")
		o.emit(signal.Success)
		o.setStatus(StateDone, 100)
		return ResultDryRun, nil
	}
	if !o.cfg.EraseAfterSync {
		o.logger.Printf("erase_after_sync=false: skipping erase")
		o.emit(signal.Success)
		o.setStatus(StateDone, 100)
		return ResultSuccess, nil
	}

	if err := sess.Seal(identity, true, false); err != nil {
		return ResultError, fmt.Errorf("WRITE_MANIFEST: %w", err)
	}

	o.setStatus(StateErase, 0)
	o.logger.Printf("step 8/10: erasing FC flash")
	o.emit(signal.EraseStart)
	if _, err := c.RequestRetry(ctx, msp.CodeDataflashErase, nil, o.cfg.RequestTimeout); err != nil {
		return ResultError, o.wrapErr("ERASE", err)
	}

	o.setStatus(StatePollEmpty, 0)
	o.logger.Printf("step 9/10: polling for erase completion")
	eraseOK, pollErr := o.pollErase(ctx, c)
	if pollErr != nil {
		if cerr := cancellationError(pollErr); cerr != nil {
			if err := session.RewriteEraseCompleted(sess.Dir, false); err != nil {
				o.logger.Printf("warning: failed to update manifest after erase cancellation: %v", err)
			}
			return ResultError, cerr
		}
	}
	if err := session.RewriteEraseCompleted(sess.Dir, eraseOK); err != nil {
		o.logger.Printf("warning: failed to update manifest after erase: %v", err)
	}
	if !eraseOK {
		return ResultError, &EraseTimeoutError{Timeout: o.cfg.EraseTimeout}
	}

	o.logger.Printf("step 10/10: sync complete")
	o.emit(signal.Success)
	o.setStatus(StateDone, 100)
	return ResultSuccess, nil
}

// pollErase polls DATAFLASH_SUMMARY every EraseLockPollInterval until
// the FC reports zero used bytes or EraseTimeout elapses. A non-nil
// error means ctx was cancelled or its deadline passed before either
// outcome; ok is meaningless in that case.
func (o *Orchestrator) pollErase(ctx context.Context, c *mspclient.Client) (bool, error) {
	deadline := time.Now().Add(o.cfg.EraseTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(o.cfg.EraseLockPollInterval):
		}
		summary, err := fc.GetSummary(ctx, c, o.cfg.RequestTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			o.logger.Printf("erase poll: %v", err)
			continue
		}
		if summary.UsedSize == 0 {
			return true, nil
		}
	}
	return false, nil
}
