// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msp

import (
	"bytes"
	"testing"
)

func makeResponseV1(t *testing.T, code uint16, payload []byte) []byte {
	t.Helper()
	frame, err := EncodeV1(code, payload)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	frame[2] = byte(FromFC)
	return frame
}

func makeResponseV2(t *testing.T, code uint16, payload []byte) []byte {
	t.Helper()
	frame, err := EncodeV2(code, payload)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	frame[2] = byte(FromFC)
	return frame
}

func TestDecodeV1EmptyPayload(t *testing.T) {
	wire := makeResponseV1(t, CodeAPIVersion, nil)
	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Code != CodeAPIVersion || len(frames[0].Payload) != 0 {
		t.Errorf("got %+v", frames[0])
	}
}

func TestDecodeV1WithPayload(t *testing.T) {
	payload := []byte{1, 40, 0}
	wire := makeResponseV1(t, CodeAPIVersion, payload)
	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("got %+v", frames)
	}
}

func TestRoundTripV1(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	wire := makeResponseV1(t, 200, payload)
	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	f := frames[0]
	if f.Version != V1 || f.Direction != FromFC || f.Code != 200 || !bytes.Equal(f.Payload, payload) {
		t.Errorf("got %+v", f)
	}
}

func TestBadChecksumDropped(t *testing.T) {
	wire := makeResponseV1(t, CodeAPIVersion, []byte{1, 2, 3})
	wire[len(wire)-1] ^= 0xFF

	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0 for corrupted checksum", len(frames))
	}
}

func TestMultipleFrames(t *testing.T) {
	first := makeResponseV1(t, 1, []byte{0x01, 0x28, 0x00})
	second := makeResponseV1(t, 2, []byte("BTFL"))

	d := NewDecoder()
	frames := d.Feed(append(append([]byte{}, first...), second...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Code != 1 || frames[1].Code != 2 {
		t.Errorf("frames out of order: %+v", frames)
	}
}

func TestNoiseBeforeFrame(t *testing.T) {
	wire := makeResponseV1(t, CodeUID, []byte{1, 2, 3, 4})
	noisy := append([]byte{0xFF, 0x00, 0x42, '$'}, wire...)

	d := NewDecoder()
	frames := d.Feed(noisy)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Code != CodeUID {
		t.Errorf("got code %d", frames[0].Code)
	}
}

func TestIncrementalFeed(t *testing.T) {
	wire := makeResponseV1(t, CodeFCVariant, []byte("BTFL"))

	d := NewDecoder()
	var got *Frame
	for _, b := range wire {
		if f := d.DecodeByte(b); f != nil {
			got = f
		}
	}
	if got == nil {
		t.Fatal("no frame decoded from incremental feed")
	}
	if got.Code != CodeFCVariant || !bytes.Equal(got.Payload, []byte("BTFL")) {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeV2(t *testing.T) {
	payload := []byte{0x03, 0x00, 0x00, 0x10, 0x00, 0x00, 0x01}
	wire := makeResponseV2(t, CodeDataflashSummary, payload)

	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Version != V2 || f.Code != CodeDataflashSummary || !bytes.Equal(f.Payload, payload) {
		t.Errorf("got %+v", f)
	}
}

func TestDecodeV2BadCRC(t *testing.T) {
	wire := makeResponseV2(t, CodeDataflashSummary, []byte{1, 2, 3})
	wire[len(wire)-1] ^= 0x01

	d := NewDecoder()
	frames := d.Feed(wire)
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0 for corrupted CRC", len(frames))
	}
}

func TestDecoderInterleavedV1AndV2(t *testing.T) {
	v1 := makeResponseV1(t, 1, []byte{1, 40, 0})
	v2 := makeResponseV2(t, CodeDataflashSummary, []byte{0x03, 0, 0, 0, 0, 0, 0})

	d := NewDecoder()
	frames := d.Feed(append(append([]byte{}, v1...), v2...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Version != V1 || frames[1].Version != V2 {
		t.Errorf("got versions %v, %v", frames[0].Version, frames[1].Version)
	}
}
