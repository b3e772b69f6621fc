// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// Decoder implements the bridge frame decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	length      int
	frame       *Frame
	rawBuffer   []byte // Accumulate raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.length = 0
	d.escapeNext = false
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if decoding fails; the decoder is reset and resyncs on
// the next START byte.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	// Framing bytes are never escaped on the wire
	if b == StartByte {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer[:0], b)
		d.state = stateChannel
		return nil, nil
	}

	if b == EndByte {
		if d.state == stateEnd && !d.escapeNext {
			return d.finish()
		}
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}

	if d.state == stateIdle {
		// Waiting for START byte
		return nil, nil
	}

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateChannel:
		d.frame = &Frame{channel: Channel(b)}
		d.push(b)
		d.state = stateLength
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.frame.payload = make([]byte, 0, d.length)
		d.push(b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.frame.payload = append(d.frame.payload, b)
		d.push(b)
		if len(d.frame.payload) >= d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.frame.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.frame.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	default:
		// stateEnd: anything but END means the frame ran past its length
		d.Reset()
		return nil, fmt.Errorf("frame overrun: expected END byte")
	}
}

func (d *Decoder) push(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}

// finish validates the CRC of a complete frame
func (d *Decoder) finish() (*Frame, error) {
	frame := d.frame
	calculated := CalculateCRC(d.buffer[:d.bufferIndex])
	d.Reset()

	if frame.crc != calculated {
		return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, frame.crc)
	}

	frame.timestamp = time.Now()
	return frame, nil
}
