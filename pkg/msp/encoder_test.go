// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msp

import (
	"bytes"
	"testing"
)

func TestEncodeV1EmptyPayload(t *testing.T) {
	frame, err := EncodeV1(CodeAPIVersion, nil)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	if !bytes.Equal(frame[:3], []byte("$M<")) {
		t.Fatalf("bad preamble: %v", frame[:3])
	}
	if frame[3] != 0 {
		t.Errorf("size = %d, want 0", frame[3])
	}
	if frame[4] != CodeAPIVersion {
		t.Errorf("code = %d, want %d", frame[4], CodeAPIVersion)
	}
	if frame[5] != crc8XOR([]byte{0, CodeAPIVersion}) {
		t.Errorf("checksum = 0x%02x", frame[5])
	}
}

func TestEncodeV1WithPayload(t *testing.T) {
	payload := []byte{0x04, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00}
	frame, err := EncodeV1(CodeDataflashRead, payload)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	if int(frame[3]) != len(payload) {
		t.Errorf("size = %d, want %d", frame[3], len(payload))
	}
	if frame[4] != CodeDataflashRead {
		t.Errorf("code = %d", frame[4])
	}
	want := 3 + 1 + 1 + len(payload) + 1
	if len(frame) != want {
		t.Errorf("len(frame) = %d, want %d", len(frame), want)
	}
}

func TestEncodeV1RejectsOversizedPayload(t *testing.T) {
	if _, err := EncodeV1(1, make([]byte, MaxV1Payload+1)); err == nil {
		t.Fatal("expected error for oversized v1 payload")
	}
}

func TestEncodeV2EmptyPayload(t *testing.T) {
	frame, err := EncodeV2(CodeAPIVersion, nil)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	if !bytes.Equal(frame[:3], []byte("$X<")) {
		t.Fatalf("bad preamble: %v", frame[:3])
	}
	flag := frame[3]
	code := uint16(frame[4]) | uint16(frame[5])<<8
	size := uint16(frame[6]) | uint16(frame[7])<<8
	if flag != 0 || code != CodeAPIVersion || size != 0 {
		t.Errorf("flag=%d code=%d size=%d", flag, code, size)
	}
}

func TestEncodeV2CRCCoverage(t *testing.T) {
	payload := []byte{0xAB, 0xCD}
	frame, err := EncodeV2(100, payload)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	want := crc8DVBS2(append([]byte{0, 100, 0, 2, 0}, payload...), 0)
	if got := frame[len(frame)-1]; got != want {
		t.Errorf("trailing crc = 0x%02x, want 0x%02x", got, want)
	}
}

func TestDecoderRoundTripV1(t *testing.T) {
	payload := []byte{0x03, 0x00, 0x00, 0x01, 0x00}
	frame, err := EncodeV1(70, payload)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	frame[2] = byte(FromFC) // simulate an FC response on the wire

	d := NewDecoder()
	frames := d.Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Version != V1 || f.Code != 70 || !bytes.Equal(f.Payload, payload) {
		t.Errorf("got %+v", f)
	}
}

func TestDecoderRoundTripV2(t *testing.T) {
	payload := []byte("BTFL")
	frame, err := EncodeV2(CodeFCVariant, payload)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	frame[2] = byte(FromFC)

	d := NewDecoder()
	frames := d.Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Version != V2 || f.Code != CodeFCVariant || !bytes.Equal(f.Payload, payload) {
		t.Errorf("got %+v", f)
	}
}
