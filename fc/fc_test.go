// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/fieldsync/bbsyncer/mspclient"
	"github.com/fieldsync/bbsyncer/pkg/msp"
	"github.com/fieldsync/bbsyncer/transport"
)

type fakeFC struct {
	decoder *msp.Decoder
	pr      *io.PipeReader
	pw      *io.PipeWriter
	handle  func(code uint16, payload []byte) (msp.Direction, []byte)
}

func newFakeFC(handle func(uint16, []byte) (msp.Direction, []byte)) *fakeFC {
	pr, pw := io.Pipe()
	return &fakeFC{decoder: msp.NewDecoder(), pr: pr, pw: pw, handle: handle}
}

func (f *fakeFC) Read(p []byte) (int, error) { return f.pr.Read(p) }
func (f *fakeFC) Close() error               { return f.pw.Close() }

func (f *fakeFC) Write(p []byte) (int, error) {
	for _, b := range p {
		fr := f.decoder.DecodeByte(b)
		if fr == nil {
			continue
		}
		dir, payload := f.handle(fr.Code, fr.Payload)
		respFrame, err := msp.Encode(msp.V1, fr.Code, payload)
		if err != nil {
			return len(p), err
		}
		respFrame[2] = byte(dir)
		go func(rf []byte) { f.pw.Write(rf) }(respFrame)
	}
	return len(p), nil
}

// handshakeHandler answers the four Identify requests as a supported
// BTFL controller whose BLACKBOX_CONFIG reports blackboxDevice.
func handshakeHandler(blackboxDevice byte) func(uint16, []byte) (msp.Direction, []byte) {
	return func(code uint16, payload []byte) (msp.Direction, []byte) {
		switch code {
		case msp.CodeAPIVersion:
			return msp.FromFC, []byte{0, 1, 46}
		case msp.CodeFCVariant:
			return msp.FromFC, []byte{'B', 'T', 'F', 'L'}
		case msp.CodeUID:
			return msp.FromFC, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
		case msp.CodeBlackboxConfig:
			return msp.FromFC, []byte{blackboxDevice}
		default:
			return msp.ErrorFromFC, nil
		}
	}
}

func newClient(t *testing.T, handle func(uint16, []byte) (msp.Direction, []byte)) *mspclient.Client {
	t.Helper()
	fake := newFakeFC(handle)
	tr := transport.FromPort(fake)
	t.Cleanup(func() { tr.Close() })
	return mspclient.New(tr, msp.V1)
}

func TestIdentifyHappyPath(t *testing.T) {
	c := newClient(t, handshakeHandler(byte(BlackboxDeviceSPIFlash)))
	id, err := Identify(context.Background(), c, time.Second)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.Variant != msp.BTFLVariant {
		t.Fatalf("Variant = %q, want BTFL", id.Variant[:])
	}
	if id.APIMajor != 1 || id.APIMinor != 46 {
		t.Fatalf("API = %d.%d, want 1.46", id.APIMajor, id.APIMinor)
	}
	if id.UIDHex() != "0102030405060708090a0b0c" {
		t.Fatalf("UIDHex = %s", id.UIDHex())
	}
	if id.BlackboxDevice != BlackboxDeviceSPIFlash {
		t.Fatalf("BlackboxDevice = %d, want SPIFlash", id.BlackboxDevice)
	}
}

func TestIdentifyRejectsSDCardBacked(t *testing.T) {
	c := newClient(t, handshakeHandler(byte(BlackboxDeviceSDCard)))
	_, err := Identify(context.Background(), c, time.Second)
	if _, ok := err.(*SDCardBackedError); !ok {
		t.Fatalf("expected *SDCardBackedError, got %T: %v", err, err)
	}
}

func TestIdentifyRejectsBelowMinimumAPIVersion(t *testing.T) {
	c := newClient(t, func(code uint16, payload []byte) (msp.Direction, []byte) {
		if code == msp.CodeAPIVersion {
			return msp.FromFC, []byte{0, 1, 30}
		}
		return msp.FromFC, nil
	})
	_, err := Identify(context.Background(), c, time.Second)
	if _, ok := err.(*UnsupportedFCError); !ok {
		t.Fatalf("expected *UnsupportedFCError, got %T: %v", err, err)
	}
}

func TestIdentifyRejectsNonBTFLVariant(t *testing.T) {
	c := newClient(t, func(code uint16, payload []byte) (msp.Direction, []byte) {
		switch code {
		case msp.CodeAPIVersion:
			return msp.FromFC, []byte{0, 1, 46}
		case msp.CodeFCVariant:
			return msp.FromFC, []byte{'I', 'N', 'A', 'V'}
		default:
			return msp.FromFC, nil
		}
	})
	_, err := Identify(context.Background(), c, time.Second)
	if _, ok := err.(*UnsupportedFCError); !ok {
		t.Fatalf("expected *UnsupportedFCError, got %T: %v", err, err)
	}
}

func encodeSummary(flags uint8, sectors, total, used uint32) []byte {
	out := make([]byte, 13)
	out[0] = flags
	putU32 := func(b []byte, v uint32) {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
	}
	putU32(out[1:5], sectors)
	putU32(out[5:9], total)
	putU32(out[9:13], used)
	return out
}

func TestGetSummaryParsesFlagsTotalAndUsed(t *testing.T) {
	flags := uint8(msp.DataflashFlagSupported | msp.DataflashFlagReady)
	c := newClient(t, func(code uint16, payload []byte) (msp.Direction, []byte) {
		return msp.FromFC, encodeSummary(flags, 512, 16*1024*1024, 4*1024*1024)
	})
	s, err := GetSummary(context.Background(), c, time.Second)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.TotalSize != 16*1024*1024 {
		t.Fatalf("TotalSize = %d, want %d", s.TotalSize, 16*1024*1024)
	}
	if s.UsedSize != 4*1024*1024 {
		t.Fatalf("UsedSize = %d, want %d", s.UsedSize, 4*1024*1024)
	}
	if !s.SupportsCompression {
		t.Fatal("SupportsCompression should be true when the supported flag bit is set")
	}
}

func TestGetSummaryRejectsNoFlashPresent(t *testing.T) {
	flags := uint8(msp.DataflashFlagReady)
	c := newClient(t, func(code uint16, payload []byte) (msp.Direction, []byte) {
		return msp.FromFC, encodeSummary(flags, 0, 0, 0)
	})
	if _, err := GetSummary(context.Background(), c, time.Second); err == nil {
		t.Fatal("expected an error when TotalSize is 0")
	}
}

func TestGetSummaryRejectsNotReady(t *testing.T) {
	flags := uint8(msp.DataflashFlagSupported)
	c := newClient(t, func(code uint16, payload []byte) (msp.Direction, []byte) {
		return msp.FromFC, encodeSummary(flags, 512, 1024, 0)
	})
	if _, err := GetSummary(context.Background(), c, time.Second); err == nil {
		t.Fatal("expected an error when the ready flag is not set")
	}
}
