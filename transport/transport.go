// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport owns the serial port connection to the flight
// controller and turns its byte stream into decoded MSP frames.
package transport

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"go.bug.st/serial"

	"github.com/fieldsync/bbsyncer/pkg/msp"
)

// Port is the minimal surface a Transport needs from its underlying
// connection. serial.Port satisfies it directly.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport reads bytes from a Port on a background goroutine, feeds
// them through an msp.Decoder, and publishes completed frames on a
// channel. One Transport owns exactly one physical connection (§5).
type Transport struct {
	port    Port
	decoder *msp.Decoder
	frames  chan *msp.Frame
	errs    chan error
	done    chan struct{}
}

// Open opens portName at baudRate (8N1, as the FC firmware expects)
// and starts the background read loop.
func Open(portName string, baudRate int) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}
	return newTransport(port), nil
}

// FromPort wraps an already-open Port, skipping the serial.Open call in
// Open. Exposed so other packages can drive a Transport against a fake
// Port in tests.
func FromPort(port Port) *Transport {
	return newTransport(port)
}

func newTransport(port Port) *Transport {
	t := &Transport{
		port:    port,
		decoder: msp.NewDecoder(),
		frames:  make(chan *msp.Frame, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.frames)
	buf := make([]byte, 4096)
	for {
		n, err := t.port.Read(buf)
		for _, b := range buf[:n] {
			if f := t.decoder.DecodeByte(b); f != nil {
				select {
				case t.frames <- f:
				case <-t.done:
					return
				}
			}
		}
		if err != nil {
			select {
			case t.errs <- err:
			default:
			}
			return
		}
		select {
		case <-t.done:
			return
		default:
		}
	}
}

// Frames returns the channel of decoded frames. It closes when the
// underlying port errors or Close is called.
func (t *Transport) Frames() <-chan *msp.Frame {
	return t.frames
}

// Err returns the error that ended the read loop, if any, without
// blocking.
func (t *Transport) Err() error {
	select {
	case err := <-t.errs:
		return err
	default:
		return nil
	}
}

// Send writes an already-encoded MSP frame to the wire.
func (t *Transport) Send(frame []byte) error {
	_, err := t.port.Write(frame)
	return err
}

// Close stops the read loop and closes the underlying port.
func (t *Transport) Close() error {
	close(t.done)
	return t.port.Close()
}

// AutoDetectPort returns the first matching /dev/ttyACM* device, sorted
// lexically so repeated runs on an unchanged set of devices are stable.
func AutoDetectPort() (string, error) {
	matches, err := filepath.Glob("/dev/ttyACM*")
	if err != nil {
		return "", fmt.Errorf("transport: glob /dev/ttyACM*: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("transport: no /dev/ttyACM* device found")
	}
	sort.Strings(matches)
	return matches[0], nil
}
