// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"context"
	"slices"
	"testing"
	"time"
)

func makeSamples(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Time:    uint32(i * 10),
			Voltage: int32(i*5 - 250),
			Current: float32(i) * 0.125,
		}
	}
	return samples
}

func encodeAll(samples []Sample) []byte {
	var buf []byte
	for _, s := range samples {
		buf = AppendSample(buf, s)
	}
	return buf
}

// chunkBy splits data into pieces of the given sizes, cycling through them
func chunkBy(data []byte, sizes ...int) [][]byte {
	var chunks [][]byte
	for i := 0; len(data) > 0; i++ {
		n := sizes[i%len(sizes)]
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func TestReassembler_ChunkSizes(t *testing.T) {
	want := makeSamples(10)
	data := encodeAll(want)

	tests := []struct {
		name  string
		sizes []int
	}{
		{"single chunk", []int{len(data)}},
		{"one byte", []int{1}},
		{"exact samples", []int{12}},
		{"thirteen bytes", []int{13}},
		{"eleven bytes", []int{11}},
		{"mixed", []int{5, 20, 1, 30, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler()
			var got []Sample
			for _, chunk := range chunkBy(data, tt.sizes...) {
				got = append(got, r.Feed(chunk)...)
				if r.Remainder() > MaxRemainder {
					t.Fatalf("Remainder() = %d, exceeds %d", r.Remainder(), MaxRemainder)
				}
			}
			if !slices.Equal(got, want) {
				t.Errorf("Feed() produced %d samples, want %d\ngot  %v\nwant %v", len(got), len(want), got, want)
			}
			if r.Remainder() != 0 {
				t.Errorf("Remainder() = %d, want 0", r.Remainder())
			}
		})
	}
}

func TestReassembler_StraddlingSample(t *testing.T) {
	want := makeSamples(2)
	data := encodeAll(want)
	r := NewReassembler()

	if got := r.Feed(data[0:8]); len(got) != 0 {
		t.Errorf("first Feed() = %v, want none", got)
	}
	if r.Remainder() != 8 {
		t.Errorf("Remainder() = %d, want 8", r.Remainder())
	}

	got := r.Feed(data[8:16])
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("second Feed() = %v, want [%v]", got, want[0])
	}
	if r.Remainder() != 4 {
		t.Errorf("Remainder() = %d, want 4", r.Remainder())
	}

	got = r.Feed(data[16:24])
	if len(got) != 1 || got[0] != want[1] {
		t.Errorf("third Feed() = %v, want [%v]", got, want[1])
	}
	if r.Remainder() != 0 {
		t.Errorf("Remainder() = %d, want 0", r.Remainder())
	}
}

func TestReassembler_EmptyChunk(t *testing.T) {
	r := NewReassembler()
	r.Feed([]byte{1, 2, 3})
	if got := r.Feed(nil); got != nil {
		t.Errorf("Feed(nil) = %v, want nil", got)
	}
	if r.Remainder() != 3 {
		t.Errorf("Remainder() = %d, want 3", r.Remainder())
	}
}

func TestReassembler_Reset(t *testing.T) {
	want := makeSamples(1)
	r := NewReassembler()
	r.Feed([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE})
	r.Reset()

	if r.Remainder() != 0 {
		t.Fatalf("Remainder() after Reset = %d, want 0", r.Remainder())
	}

	got := r.Feed(encodeAll(want))
	if !slices.Equal(got, want) {
		t.Errorf("Feed() after Reset = %v, want %v", got, want)
	}
}

func TestReassembler_ChunkNotRetained(t *testing.T) {
	want := makeSamples(3)
	data := encodeAll(want)
	r := NewReassembler()

	chunk := append([]byte{}, data[:20]...)
	first := r.Feed(chunk)
	for i := range chunk {
		chunk[i] = 0xFF
	}
	second := r.Feed(data[20:])

	got := append(first, second...)
	if !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}

func TestReassembler_Stream(t *testing.T) {
	want := makeSamples(6)
	chunks := chunkBy(encodeAll(want), 7)
	r := NewReassembler()

	got := slices.Collect(r.Stream(slices.Values(chunks)))
	if !slices.Equal(got, want) {
		t.Errorf("Stream() = %v, want %v", got, want)
	}
}

func TestReassembler_StreamEarlyStop(t *testing.T) {
	want := makeSamples(6)
	chunks := chunkBy(encodeAll(want), 30)
	r := NewReassembler()

	var got []Sample
	for s := range r.Stream(slices.Values(chunks)) {
		got = append(got, s)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, want[:2]) {
		t.Errorf("Stream() first two = %v, want %v", got, want[:2])
	}
}

func TestReassembler_Pump(t *testing.T) {
	want := makeSamples(8)
	chunks := chunkBy(encodeAll(want), 5)

	in := make(chan []byte, len(chunks))
	out := make(chan []Sample, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r := NewReassembler()
	if err := r.Pump(ctx, in, out); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	close(out)

	var got []Sample
	for batch := range out {
		if len(batch) == 0 {
			t.Error("Pump() sent an empty batch")
		}
		got = append(got, batch...)
	}
	if !slices.Equal(got, want) {
		t.Errorf("Pump() = %v, want %v", got, want)
	}
}

func TestReassembler_PumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReassembler()
	err := r.Pump(ctx, make(chan []byte), make(chan []Sample))
	if err != context.Canceled {
		t.Errorf("Pump() error = %v, want %v", err, context.Canceled)
	}
}

func TestChunkSeq(t *testing.T) {
	in := make(chan []byte, 3)
	in <- []byte{1}
	in <- []byte{2, 3}
	close(in)

	var total int
	for chunk := range ChunkSeq(context.Background(), in) {
		total += len(chunk)
	}
	if total != 3 {
		t.Errorf("ChunkSeq() yielded %d bytes, want 3", total)
	}
}
