// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge implements the framing used when potentiostat GATT
// traffic is carried over a byte stream instead of BLE.
//
// A bridge (typically a microcontroller attached to the instrument)
// forwards each characteristic write or notification as one frame:
//
//	START | stuffed(channel | length | payload | crc16) | END
//
// The CRC is CRC-16-CCITT over channel, length and payload, appended
// big-endian. Bytes inside the frame that collide with a framing byte are
// escaped as ESC followed by the byte XOR 0x20.
package bridge

import "fmt"

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	HeaderSize     = 2 // channel + length
	CRCSize        = 2
	MaxPayloadSize = 244
	MaxFrameSize   = HeaderSize + MaxPayloadSize + CRCSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Channel identifies the GATT characteristic a frame belongs to
type Channel uint8

// Channels
const (
	ChannelConfig  Channel = 0x01 // host -> device, experiment record
	ChannelControl Channel = 0x02 // host -> device, start/stop byte
	ChannelStatus  Channel = 0x03 // device -> host, status bitfield
	ChannelResults Channel = 0x04 // device -> host, sample chunk
)

// String returns the channel name
func (c Channel) String() string {
	switch c {
	case ChannelConfig:
		return "CONFIG"
	case ChannelControl:
		return "CONTROL"
	case ChannelStatus:
		return "STATUS"
	case ChannelResults:
		return "RESULTS"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

// Decoder states
const (
	stateIdle = iota
	stateChannel
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
