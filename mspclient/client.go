// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mspclient implements the MSP request/response contract on
// top of a transport.Transport: per-opcode correlation, timeouts, and
// the pipelined DATAFLASH_READ path.
package mspclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/fieldsync/bbsyncer/pkg/msp"
	"github.com/fieldsync/bbsyncer/transport"
)

// TimeoutError reports that no response arrived for code within the
// request's deadline.
type TimeoutError struct {
	Code uint16
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mspclient: timeout waiting for response to code %d", e.Code)
}

// ExitCode maps TimeoutError to its §7 process exit code.
func (e *TimeoutError) ExitCode() int { return 4 }

// ProtocolError reports a malformed or unexpected response payload.
type ProtocolError struct {
	Code   uint16
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mspclient: protocol error on code %d: %s", e.Code, e.Reason)
}

// ExitCode maps ProtocolError to its §7 process exit code.
func (e *ProtocolError) ExitCode() int { return 5 }

// Client serializes requests per opcode (MSP carries no sequence
// number, so at most one request per opcode may be outstanding) and
// exposes the pipelined flash-read path used by the orchestrator's
// STREAM step.
type Client struct {
	t       *transport.Transport
	version msp.Version

	mu      sync.Mutex
	waiters map[uint16]chan *msp.Frame
	closed  chan struct{}
}

// New wraps an open transport. version selects which frame encoding
// outgoing requests use; responses of either version are accepted.
func New(t *transport.Transport, version msp.Version) *Client {
	c := &Client{
		t:       t,
		version: version,
		waiters: make(map[uint16]chan *msp.Frame),
		closed:  make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *Client) dispatchLoop() {
	for f := range c.t.Frames() {
		if f.Direction == msp.ToFC {
			continue
		}
		c.mu.Lock()
		ch, ok := c.waiters[f.Code]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
				// waiter not ready for another frame on this opcode;
				// the caller will resend, so drop it.
			}
		}
	}
	close(c.closed)
}

// Request sends one MSP request and blocks for its response. Only one
// Request per opcode may be in flight at a time; a second caller for
// the same code while the first is pending returns ProtocolError.
// Cancelling ctx aborts the wait and returns ctx.Err() (§5 Cancellation).
func (c *Client) Request(ctx context.Context, code uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if _, busy := c.waiters[code]; busy {
		c.mu.Unlock()
		return nil, &ProtocolError{Code: code, Reason: "request already outstanding for this opcode"}
	}
	ch := make(chan *msp.Frame, 1)
	c.waiters[code] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, code)
		c.mu.Unlock()
	}()

	frame, err := msp.Encode(c.version, code, payload)
	if err != nil {
		return nil, err
	}
	if err := c.t.Send(frame); err != nil {
		return nil, fmt.Errorf("mspclient: send: %w", err)
	}

	select {
	case f := <-ch:
		if f.Direction == msp.ErrorFromFC {
			return nil, &ProtocolError{Code: code, Reason: "FC returned an error response"}
		}
		return f.Payload, nil
	case <-time.After(timeout):
		return nil, &TimeoutError{Code: code}
	case <-c.closed:
		return nil, fmt.Errorf("mspclient: transport closed while awaiting code %d", code)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestRetry wraps Request with the transport-layer retry policy
// from §7: up to 3 attempts with a 100ms backoff between them. A
// cancelled ctx stops retrying immediately rather than burning through
// the remaining attempts.
func (c *Client) RequestRetry(ctx context.Context, code uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	const maxAttempts = 3
	const backoff = 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		payloadOut, err := c.Request(ctx, code, payload, timeout)
		if err == nil {
			return payloadOut, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
		}
	}
	return nil, lastErr
}

// Chunk is one decoded, decompressed DATAFLASH_READ response.
type Chunk struct {
	Offset uint32
	Data   []byte
}

// maxConsecutiveChunkErrors bounds how many back-to-back timeouts
// ReadFlashPipelined tolerates before giving up on the stream. Each
// individual request already retries at the frame level only via
// resend here; RequestRetry's 3-attempt policy governs single-opcode
// requests elsewhere in this package.
const maxConsecutiveChunkErrors = 5

// ReadFlashPipelined streams [0, totalSize) from the FC's dataflash in
// chunkSize-byte requests, keeping up to depth requests in flight at
// once (§4.5). Responses are matched to their request by the offset
// carried in the response header, not by arrival order, and chunks are
// delivered to out strictly in ascending offset order even though the
// FC may answer out of order within the window. A run of up to
// maxConsecutiveChunkErrors timeouts is tolerated by resending every
// request still in the window before giving up. Cancelling ctx stops
// issuing new requests and abandons the in-flight window immediately,
// returning ctx.Err() (§5 Cancellation).
func (c *Client) ReadFlashPipelined(ctx context.Context, totalSize uint32, chunkSize uint32, depth uint8, useCompression bool, timeout time.Duration, out func(Chunk) error) error {
	if depth < 1 {
		depth = 1
	}

	type pending struct {
		offset uint32
		size   uint16
	}

	nextOffset := uint32(0)
	window := make([]pending, 0, depth)
	pendingResults := make(map[uint32]Chunk)
	deliverOffset := uint32(0)

	sendNext := func() error {
		if nextOffset >= totalSize {
			return nil
		}
		size := chunkSize
		if remaining := totalSize - nextOffset; remaining < size {
			size = remaining
		}
		req := make([]byte, 7)
		binary.LittleEndian.PutUint32(req[0:4], nextOffset)
		binary.LittleEndian.PutUint16(req[4:6], uint16(size))
		if useCompression {
			req[6] = 1
		}
		frame, err := msp.Encode(c.version, msp.CodeDataflashRead, req)
		if err != nil {
			return err
		}
		if err := c.t.Send(frame); err != nil {
			return fmt.Errorf("mspclient: send DATAFLASH_READ: %w", err)
		}
		window = append(window, pending{offset: nextOffset, size: uint16(size)})
		nextOffset += size
		return nil
	}

	c.mu.Lock()
	if _, busy := c.waiters[msp.CodeDataflashRead]; busy {
		c.mu.Unlock()
		return &ProtocolError{Code: msp.CodeDataflashRead, Reason: "DATAFLASH_READ already outstanding"}
	}
	ch := make(chan *msp.Frame, int(depth)+1)
	c.waiters[msp.CodeDataflashRead] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, msp.CodeDataflashRead)
		c.mu.Unlock()
	}()

	resend := func() error {
		for _, p := range window {
			req := make([]byte, 7)
			binary.LittleEndian.PutUint32(req[0:4], p.offset)
			binary.LittleEndian.PutUint16(req[4:6], p.size)
			if useCompression {
				req[6] = 1
			}
			frame, err := msp.Encode(c.version, msp.CodeDataflashRead, req)
			if err != nil {
				return err
			}
			if err := c.t.Send(frame); err != nil {
				return fmt.Errorf("mspclient: resend DATAFLASH_READ: %w", err)
			}
		}
		return nil
	}

	for len(window) < int(depth) && nextOffset < totalSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sendNext(); err != nil {
			return err
		}
	}

	consecutiveErrors := 0
	for deliverOffset < totalSize {
		if len(window) == 0 {
			break
		}

		select {
		case f := <-ch:
			consecutiveErrors = 0
			if f.Direction == msp.ErrorFromFC {
				return &ProtocolError{Code: msp.CodeDataflashRead, Reason: "FC returned an error response"}
			}
			offset, rawData, err := decodeFlashReadResponse(f.Payload, useCompression)
			if err != nil {
				return err
			}

			idx := -1
			for i, p := range window {
				if p.offset == offset {
					idx = i
					break
				}
			}
			if idx < 0 {
				return &ProtocolError{Code: msp.CodeDataflashRead, Reason: fmt.Sprintf("response offset %d does not match any in-flight request", offset)}
			}
			expectedSize := window[idx].size
			window = append(window[:idx], window[idx+1:]...)

			data := rawData
			if useCompression && len(rawData) > 0 {
				data, err = msp.HuffmanDecode(rawData, int(expectedSize))
				if err != nil {
					return fmt.Errorf("mspclient: decompress chunk at offset %d: %w", offset, err)
				}
			}
			pendingResults[offset] = Chunk{Offset: offset, Data: data}

			if len(data) == 0 {
				// FC reports end of data early; stop issuing new requests
				// but keep draining what is already in flight.
				totalSize = offset
			} else if err := sendNext(); err != nil {
				return err
			}

			for {
				next, ok := pendingResults[deliverOffset]
				if !ok {
					break
				}
				delete(pendingResults, deliverOffset)
				if err := out(next); err != nil {
					return err
				}
				deliverOffset += uint32(len(next.Data))
			}

		case <-time.After(timeout):
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveChunkErrors {
				return &TimeoutError{Code: msp.CodeDataflashRead}
			}
			if err := resend(); err != nil {
				return err
			}
		case <-c.closed:
			return fmt.Errorf("mspclient: transport closed mid-stream")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func decodeFlashReadResponse(payload []byte, compressed bool) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, &ProtocolError{Code: msp.CodeDataflashRead, Reason: "response shorter than offset field"}
	}
	offset := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]

	if !compressed {
		return offset, rest, nil
	}
	if len(rest) < 2 {
		return 0, nil, &ProtocolError{Code: msp.CodeDataflashRead, Reason: "compressed response missing size field"}
	}
	compressedSize := binary.LittleEndian.Uint16(rest[0:2])
	body := rest[2:]
	if int(compressedSize) > len(body) {
		return 0, nil, &ProtocolError{Code: msp.CodeDataflashRead, Reason: "compressed size exceeds payload"}
	}
	return offset, body[:compressedSize], nil
}
