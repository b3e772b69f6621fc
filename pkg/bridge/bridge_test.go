// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// decodeAll feeds data byte-by-byte and collects completed frames and errors
func decodeAll(d *Decoder, data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	if got := CalculateCRC(nil); got != 0xFFFF {
		t.Errorf("CalculateCRC(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check string", []byte("123456789"), 0x29B1},
		{"single zero", []byte{0x00}, 0xE1F0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC(tt.data); got != tt.want {
				t.Errorf("CalculateCRC() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_Layout(t *testing.T) {
	frame, err := EncodeFrame(ChannelControl, []byte{0x01})
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	crc := CalculateCRC([]byte{0x02, 0x01, 0x01})
	want := []byte{StartByte}
	want = append(want, stuffBytes([]byte{0x02, 0x01, 0x01, byte(crc >> 8), byte(crc)})...)
	want = append(want, EndByte)

	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeFrame() = % X, want % X", frame, want)
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	if _, err := EncodeFrame(ChannelResults, make([]byte, MaxPayloadSize+1)); err == nil {
		t.Error("EncodeFrame() error = nil, want error for oversized payload")
	}
}

func TestEncodeFrame_NoBareFramingBytes(t *testing.T) {
	payload := []byte{StartByte, EndByte, EscByte, 0x00, StartByte}
	frame := MustEncodeFrame(ChannelResults, payload)

	inner := frame[1 : len(frame)-1]
	for i, b := range inner {
		if b == StartByte || b == EndByte {
			t.Errorf("unescaped framing byte 0x%02X at offset %d", b, i+1)
		}
	}

	unstuffed, err := UnstuffBytes(inner)
	if err != nil {
		t.Fatalf("UnstuffBytes() error = %v", err)
	}
	if !bytes.Equal(unstuffed[HeaderSize:HeaderSize+len(payload)], payload) {
		t.Errorf("UnstuffBytes() payload = % X, want % X", unstuffed[HeaderSize:], payload)
	}
}

func TestUnstuffBytes_IncompleteEscape(t *testing.T) {
	if _, err := UnstuffBytes([]byte{0x01, EscByte}); err == nil {
		t.Error("UnstuffBytes() error = nil, want incomplete escape error")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		payload []byte
	}{
		{"status", ChannelStatus, []byte{0x01}},
		{"empty", ChannelStatus, nil},
		{"config record", ChannelConfig, bytes.Repeat([]byte{0x7E, 0x7D, 0x7F, 0x20}, 8)},
		{"max payload", ChannelResults, bytes.Repeat([]byte{0xAB}, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			frames, errs := decodeAll(d, MustEncodeFrame(tt.channel, tt.payload))
			if len(errs) != 0 {
				t.Fatalf("DecodeByte() errors = %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("decoded %d frames, want 1", len(frames))
			}
			f := frames[0]
			if f.Channel() != tt.channel {
				t.Errorf("Channel() = %v, want %v", f.Channel(), tt.channel)
			}
			if !bytes.Equal(f.Payload(), tt.payload) {
				t.Errorf("Payload() = % X, want % X", f.Payload(), tt.payload)
			}
			if f.Timestamp().IsZero() {
				t.Error("Timestamp() is zero")
			}
		})
	}
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x11) // line noise before sync
	stream = append(stream, MustEncodeFrame(ChannelStatus, []byte{0x01})...)
	stream = append(stream, MustEncodeFrame(ChannelResults, []byte{1, 2, 3})...)
	stream = append(stream, MustEncodeFrame(ChannelStatus, []byte{0x00})...)

	frames, errs := decodeAll(NewDecoder(), stream)
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	if len(frames) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(frames))
	}
	if frames[1].Channel() != ChannelResults || !bytes.Equal(frames[1].Payload(), []byte{1, 2, 3}) {
		t.Errorf("frame[1] = %v", frames[1])
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	frame := MustEncodeFrame(ChannelStatus, []byte{0x01})
	frame[3] ^= 0x04 // flip a payload bit

	frames, errs := decodeAll(NewDecoder(), frame)
	if len(frames) != 0 {
		t.Errorf("decoded %d frames from corrupt input", len(frames))
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v, want one CRC mismatch", errs)
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(byte(ChannelResults))
	if _, err := d.DecodeByte(MaxPayloadSize + 1); err == nil {
		t.Error("DecodeByte() error = nil, want invalid length error")
	}
}

func TestDecoder_Overrun(t *testing.T) {
	frame := MustEncodeFrame(ChannelStatus, []byte{0x01})
	// Insert an extra byte before END
	corrupt := append(append([]byte{}, frame[:len(frame)-1]...), 0x55, EndByte)

	frames, errs := decodeAll(NewDecoder(), corrupt)
	if len(frames) != 0 || len(errs) == 0 {
		t.Errorf("frames = %v, errs = %v, want overrun error", frames, errs)
	}
}

func TestDecoder_StartByteResynchronizes(t *testing.T) {
	good := MustEncodeFrame(ChannelStatus, []byte{0x01})
	partial := MustEncodeFrame(ChannelResults, []byte{9, 9, 9, 9})
	stream := append(append([]byte{}, partial[:4]...), good...)

	frames, errs := decodeAll(NewDecoder(), stream)
	if len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
	if len(frames) != 1 || frames[0].Channel() != ChannelStatus {
		t.Errorf("frames = %v, want the status frame", frames)
	}
}

func TestDecoder_GetRawBytes(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x03)
	if got := d.GetRawBytes(); !bytes.Equal(got, []byte{StartByte, 0x03}) {
		t.Errorf("GetRawBytes() = % X", got)
	}
	d.Reset()
	if len(d.GetRawBytes()) != 0 {
		t.Error("GetRawBytes() not empty after Reset")
	}
}

func TestChannel_String(t *testing.T) {
	if ChannelResults.String() != "RESULTS" {
		t.Errorf("ChannelResults.String() = %q", ChannelResults.String())
	}
	if Channel(0x42).String() != "UNKNOWN(0x42)" {
		t.Errorf("Channel(0x42).String() = %q", Channel(0x42).String())
	}
}

// ============================================================
// Fuzz Tests
// ============================================================

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestFuzz_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(300))
		rng.Read(data)
		// Must never panic
		decodeAll(d, data)
	}
}

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		channel := Channel(rng.Intn(4) + 1)
		payload := make([]byte, rng.Intn(MaxPayloadSize+1))
		rng.Read(payload)

		frames, errs := decodeAll(d, MustEncodeFrame(channel, payload))
		if len(errs) != 0 || len(frames) != 1 {
			t.Fatalf("round %d: frames = %d, errs = %v", i, len(frames), errs)
		}
		if frames[0].Channel() != channel || !bytes.Equal(frames[0].Payload(), payload) {
			t.Fatalf("round %d: frame mismatch", i)
		}
	}
}
