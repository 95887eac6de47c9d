// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fc runs the MSP handshake that identifies an attached flight
// controller and confirms it is one this system knows how to sync.
package fc

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fieldsync/bbsyncer/mspclient"
	"github.com/fieldsync/bbsyncer/pkg/msp"
)

// BlackboxDevice mirrors Betaflight's BLACKBOX_CONFIG device enum: the
// first payload byte identifies where the FC logs to.
type BlackboxDevice uint8

const (
	BlackboxDeviceNone   BlackboxDevice = 0
	BlackboxDeviceSPIFlash BlackboxDevice = 1
	BlackboxDeviceSDCard BlackboxDevice = 2
	BlackboxDeviceSerial BlackboxDevice = 3
)

// Identity is the immutable result of a successful handshake (§3).
type Identity struct {
	Variant        [4]byte
	UID            [12]byte
	APIMajor       uint8
	APIMinor       uint8
	BlackboxDevice BlackboxDevice
}

// UIDHex renders the FC's UID as a lowercase hex string.
func (id *Identity) UIDHex() string {
	return hex.EncodeToString(id.UID[:])
}

// UnsupportedFCError reports an FC that does not speak a compatible
// API version or does not identify as Betaflight.
type UnsupportedFCError struct {
	Reason string
}

func (e *UnsupportedFCError) Error() string {
	return fmt.Sprintf("fc: unsupported flight controller: %s", e.Reason)
}

// ExitCode maps UnsupportedFCError to its §7 process exit code.
func (e *UnsupportedFCError) ExitCode() int { return 6 }

// SDCardBackedError reports an FC whose blackbox lives on an SD card
// rather than SPI flash; this system only syncs SPI-resident flash.
type SDCardBackedError struct{}

func (e *SDCardBackedError) Error() string {
	return "fc: flight controller logs to SD card, not SPI flash"
}

// ExitCode maps SDCardBackedError to its §7 process exit code.
func (e *SDCardBackedError) ExitCode() int { return 7 }

// Identify executes the API_VERSION → FC_VARIANT → UID → BLACKBOX_CONFIG
// steps of the handshake (§4.6 steps 1-3, 5). DATAFLASH_SUMMARY (step 4)
// is fetched separately via GetSummary, since the orchestrator also polls
// it during ERASE.
func Identify(ctx context.Context, c *mspclient.Client, timeout time.Duration) (*Identity, error) {
	id := &Identity{}

	apiPayload, err := c.RequestRetry(ctx, msp.CodeAPIVersion, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("fc: API_VERSION: %w", err)
	}
	if len(apiPayload) < 3 {
		return nil, &UnsupportedFCError{Reason: "API_VERSION response too short"}
	}
	id.APIMajor = apiPayload[1]
	id.APIMinor = apiPayload[2]
	if id.APIMajor < msp.MinAPIMajor || (id.APIMajor == msp.MinAPIMajor && id.APIMinor < msp.MinAPIMinor) {
		return nil, &UnsupportedFCError{Reason: fmt.Sprintf("API %d.%d below minimum %d.%d", id.APIMajor, id.APIMinor, msp.MinAPIMajor, msp.MinAPIMinor)}
	}

	variantPayload, err := c.RequestRetry(ctx, msp.CodeFCVariant, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("fc: FC_VARIANT: %w", err)
	}
	if len(variantPayload) < 4 {
		return nil, &UnsupportedFCError{Reason: "FC_VARIANT response too short"}
	}
	copy(id.Variant[:], variantPayload[:4])
	if id.Variant != msp.BTFLVariant {
		return nil, &UnsupportedFCError{Reason: fmt.Sprintf("expected BTFL variant, got %q", id.Variant[:])}
	}

	uidPayload, err := c.RequestRetry(ctx, msp.CodeUID, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("fc: UID: %w", err)
	}
	if len(uidPayload) < 12 {
		return nil, &UnsupportedFCError{Reason: "UID response too short"}
	}
	copy(id.UID[:], uidPayload[:12])

	bbPayload, err := c.RequestRetry(ctx, msp.CodeBlackboxConfig, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("fc: BLACKBOX_CONFIG: %w", err)
	}
	if len(bbPayload) < 1 {
		return nil, &UnsupportedFCError{Reason: "BLACKBOX_CONFIG response too short"}
	}
	id.BlackboxDevice = BlackboxDevice(bbPayload[0])
	if id.BlackboxDevice == BlackboxDeviceSDCard {
		return nil, &SDCardBackedError{}
	}

	return id, nil
}

// Summary is the FC's reported dataflash state (§3 FlashSummary).
type Summary struct {
	Flags               uint8
	TotalSize           uint32
	UsedSize            uint32
	SupportsCompression bool
}

const dataflashFlagReady = msp.DataflashFlagReady

// GetSummary fetches and parses DATAFLASH_SUMMARY (§4.6 step 4). It
// fails if the FC reports no flash at all or is not ready.
func GetSummary(ctx context.Context, c *mspclient.Client, timeout time.Duration) (*Summary, error) {
	payload, err := c.RequestRetry(ctx, msp.CodeDataflashSummary, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("fc: DATAFLASH_SUMMARY: %w", err)
	}
	if len(payload) < 13 {
		return nil, &UnsupportedFCError{Reason: "DATAFLASH_SUMMARY response too short"}
	}

	s := &Summary{
		Flags:     payload[0],
		TotalSize: binary.LittleEndian.Uint32(payload[5:9]),
		UsedSize:  binary.LittleEndian.Uint32(payload[9:13]),
	}
	s.SupportsCompression = s.Flags&msp.DataflashFlagSupported != 0

	if s.TotalSize == 0 {
		return nil, fmt.Errorf("fc: DATAFLASH_SUMMARY reports no flash present")
	}
	if s.Flags&dataflashFlagReady == 0 {
		return nil, fmt.Errorf("fc: dataflash not ready")
	}
	return s, nil
}
