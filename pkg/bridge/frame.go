// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// Frame is one decoded bridge frame
type Frame struct {
	channel   Channel
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame for sending
func NewFrame(channel Channel, payload []byte) *Frame {
	return &Frame{
		channel:   channel,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Channel returns the frame's channel
func (f *Frame) Channel() Channel { return f.channel }

// Payload returns the frame payload
func (f *Frame) Payload() []byte { return f.payload }

// CRC returns the checksum received with the frame
func (f *Frame) CRC() uint16 { return f.crc }

// Timestamp returns when the frame was decoded or created
func (f *Frame) Timestamp() time.Time { return f.timestamp }

// String returns a one-line description of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("%s len=%d % X", f.channel, len(f.payload), f.payload)
}

// EncodeFrame creates a complete wire-formatted bridge frame.
// Returns the frame bytes ready for transmission, including framing and
// byte stuffing.
func EncodeFrame(channel Channel, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	// channel + length + payload is what gets CRC'd and byte-stuffed
	data := make([]byte, 0, HeaderSize+len(payload)+CRCSize)
	data = append(data, byte(channel), byte(len(payload)))
	data = append(data, payload...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame, nil
}

// MustEncodeFrame is EncodeFrame for payloads known to fit.
// Panics on encoding error.
func MustEncodeFrame(channel Channel, payload []byte) []byte {
	frame, err := EncodeFrame(channel, payload)
	if err != nil {
		panic(fmt.Sprintf("bridge: encode error: %v", err))
	}
	return frame
}

// stuffBytes applies byte stuffing to escape special bytes.
// Special bytes (START, END, ESC) are replaced with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
