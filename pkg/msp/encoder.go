// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msp

import "fmt"

// EncodeV1 builds a `$M<` frame: size(1B) + code(1B) + payload + XOR checksum.
// Valid only for codes and payload lengths that fit v1's 8-bit fields.
func EncodeV1(code uint16, payload []byte) ([]byte, error) {
	if code > 0xFF {
		return nil, fmt.Errorf("msp: code %d does not fit an 8-bit v1 frame", code)
	}
	if len(payload) > MaxV1Payload {
		return nil, fmt.Errorf("msp: v1 payload too large: %d bytes (max %d)", len(payload), MaxV1Payload)
	}

	size := byte(len(payload))
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, HeaderDollar, HeaderV1, byte(ToFC), size, byte(code))
	frame = append(frame, payload...)
	frame = append(frame, crc8XOR(frame[3:]))
	return frame, nil
}

// EncodeV2 builds a `$X<` frame: flag(1B=0) + code(2B LE) + size(2B LE) +
// payload + CRC8-DVB-S2 over [flag, code_lo, code_hi, len_lo, len_hi, payload...].
func EncodeV2(code uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxV2Payload {
		return nil, fmt.Errorf("msp: v2 payload too large: %d bytes (max %d)", len(payload), MaxV2Payload)
	}

	size := len(payload)
	header := []byte{
		0, // flag
		byte(code),
		byte(code >> 8),
		byte(size),
		byte(size >> 8),
	}

	frame := make([]byte, 0, 3+len(header)+len(payload)+1)
	frame = append(frame, HeaderDollar, HeaderV2, byte(ToFC))
	frame = append(frame, header...)
	frame = append(frame, payload...)

	crc := crc8DVBS2(header, 0)
	crc = crc8DVBS2(payload, crc)
	frame = append(frame, crc)
	return frame, nil
}

// Encode dispatches to EncodeV1 or EncodeV2 by version.
func Encode(v Version, code uint16, payload []byte) ([]byte, error) {
	switch v {
	case V1:
		return EncodeV1(code, payload)
	case V2:
		return EncodeV2(code, payload)
	default:
		return nil, fmt.Errorf("msp: unknown frame version %d", v)
	}
}
