// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package msp implements the MultiWii Serial Protocol binary frame codec
// used to talk to Betaflight-family flight controllers over a serial link.
//
// It provides v1 and v2 frame encoding/decoding with their respective CRC
// schemes, plus the fixed-table Huffman decompressor used for compressed
// blackbox flash reads.
package msp

// Frame header and direction bytes
const (
	HeaderDollar = '$'
	HeaderV1     = 'M'
	HeaderV2     = 'X'

	DirToFC        = '<'
	DirFromFC      = '>'
	DirErrorFromFC = '!'
)

// Frame version
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
)

// Payload size limits (§4.2)
const (
	MaxV1Payload = 0xFF
	MaxV2Payload = 0xFFFF
)

// Opcodes used by this system (§6)
const (
	CodeAPIVersion      = 1
	CodeFCVariant       = 2
	CodeBlackboxConfig  = 80
	CodeUID             = 160
	CodeDataflashSummary = 70
	CodeDataflashRead    = 71
	CodeDataflashErase   = 72
)

// DATAFLASH_SUMMARY flags (flags byte bitfield)
const (
	DataflashFlagSupported = 1 << 0
	DataflashFlagReady     = 1 << 1
)

// DATAFLASH_READ compression markers
const (
	CompressionNone    = 0
	CompressionHuffman = 1
)

// BTFLVariant is the only FC_VARIANT this system accepts.
//
// BLACKBOX_CONFIG device kinds are decoded by the fc package. The exact
// byte offset of the device-kind field varies by API version (spec §9
// open question); this core only looks at the first payload byte, which
// upstream firmware has carried as the device-kind discriminator across
// the API versions this system targets (>= 1.40).
var BTFLVariant = [4]byte{'B', 'T', 'F', 'L'}

// Minimum supported MSP API version.
const (
	MinAPIMajor = 1
	MinAPIMinor = 40
)

// decoder states (internal)
const (
	stateIdle = iota
	stateHdrMX
	stateDirection
	stateV1Len
	stateV1Code
	stateV1Payload
	stateV1Checksum
	stateV2Flag
	stateV2CodeLo
	stateV2CodeHi
	stateV2LenLo
	stateV2LenHi
	stateV2Payload
	stateV2Checksum
)
