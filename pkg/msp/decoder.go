// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msp

// Decoder implements the MSP v1/v2 frame decoder state machine (§4.2).
// v1 and v2 frames interleave freely on the wire; the header bytes
// disambiguate which variant is in progress. A checksum mismatch
// discards the in-progress frame silently and returns to idle — the
// bus may have noise or a late retransmission, and losing one frame
// must not desynchronize the ones that follow.
type Decoder struct {
	state   int
	version Version
	dir     Direction
	code    uint16
	size    int

	payload     []byte
	payloadIdx  int
	v1Checksum  byte
	v2Header    [5]byte
	v2HeaderLen int
}

// NewDecoder creates a new MSP frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{state: stateIdle}
}

// Reset returns the decoder to idle, discarding any in-progress frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.version = 0
	d.dir = 0
	d.code = 0
	d.size = 0
	d.payloadIdx = 0
	d.v1Checksum = 0
	d.v2HeaderLen = 0
}

// DecodeByte feeds a single byte through the decoder. It returns a
// completed, checksum-valid frame, or nil if no frame completed yet.
func (d *Decoder) DecodeByte(b byte) *Frame {
	switch d.state {
	case stateIdle:
		if b == HeaderDollar {
			d.state = stateHdrMX
		}
		return nil

	case stateHdrMX:
		switch b {
		case HeaderV1:
			d.version = V1
			d.state = stateDirection
		case HeaderV2:
			d.version = V2
			d.state = stateDirection
		default:
			d.Reset()
			if b == HeaderDollar {
				d.state = stateHdrMX
			}
		}
		return nil

	case stateDirection:
		switch b {
		case DirToFC, DirFromFC, DirErrorFromFC:
			d.dir = Direction(b)
			if d.version == V1 {
				d.state = stateV1Len
			} else {
				d.state = stateV2Flag
			}
		default:
			d.Reset()
			if b == HeaderDollar {
				d.state = stateHdrMX
			}
		}
		return nil

	// --- v1 ---
	case stateV1Len:
		d.size = int(b)
		d.v1Checksum = b
		d.payloadIdx = 0
		d.ensurePayload(d.size)
		d.state = stateV1Code
		return nil

	case stateV1Code:
		d.code = uint16(b)
		d.v1Checksum ^= b
		if d.size == 0 {
			d.state = stateV1Checksum
		} else {
			d.state = stateV1Payload
		}
		return nil

	case stateV1Payload:
		d.payload[d.payloadIdx] = b
		d.payloadIdx++
		d.v1Checksum ^= b
		if d.payloadIdx == d.size {
			d.state = stateV1Checksum
		}
		return nil

	case stateV1Checksum:
		var f *Frame
		if b == d.v1Checksum {
			f = &Frame{
				Version:   V1,
				Direction: d.dir,
				Code:      d.code,
				Payload:   append([]byte(nil), d.payload[:d.size]...),
			}
		}
		d.Reset()
		return f

	// --- v2 ---
	case stateV2Flag:
		d.v2Header[0] = b
		d.v2HeaderLen = 1
		d.state = stateV2CodeLo
		return nil

	case stateV2CodeLo:
		d.code = uint16(b)
		d.v2Header[d.v2HeaderLen] = b
		d.v2HeaderLen++
		d.state = stateV2CodeHi
		return nil

	case stateV2CodeHi:
		d.code |= uint16(b) << 8
		d.v2Header[d.v2HeaderLen] = b
		d.v2HeaderLen++
		d.state = stateV2LenLo
		return nil

	case stateV2LenLo:
		d.size = int(b)
		d.v2Header[d.v2HeaderLen] = b
		d.v2HeaderLen++
		d.state = stateV2LenHi
		return nil

	case stateV2LenHi:
		d.size |= int(b) << 8
		d.v2Header[d.v2HeaderLen] = b
		d.v2HeaderLen++
		d.payloadIdx = 0
		d.ensurePayload(d.size)
		if d.size == 0 {
			d.state = stateV2Checksum
		} else {
			d.state = stateV2Payload
		}
		return nil

	case stateV2Payload:
		d.payload[d.payloadIdx] = b
		d.payloadIdx++
		if d.payloadIdx == d.size {
			d.state = stateV2Checksum
		}
		return nil

	case stateV2Checksum:
		var crc byte
		crc = crc8DVBS2(d.v2Header[:d.v2HeaderLen], crc)
		crc = crc8DVBS2(d.payload[:d.size], crc)

		var f *Frame
		if b == crc {
			f = &Frame{
				Version:   V2,
				Direction: d.dir,
				Code:      d.code,
				Payload:   append([]byte(nil), d.payload[:d.size]...),
			}
		}
		d.Reset()
		return f

	default:
		d.Reset()
		return nil
	}
}

// Feed decodes every byte in data, returning all frames that completed.
func (d *Decoder) Feed(data []byte) []*Frame {
	var frames []*Frame
	for _, b := range data {
		if f := d.DecodeByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

func (d *Decoder) ensurePayload(size int) {
	if cap(d.payload) < size {
		d.payload = make([]byte, size)
	} else {
		d.payload = d.payload[:size]
	}
}
