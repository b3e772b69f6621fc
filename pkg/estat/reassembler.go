// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"context"
	"iter"
)

// Reassembler turns arbitrarily chunked telemetry notifications into
// complete samples. Bytes of a sample that straddles two chunks are held
// until the rest arrives, so no sample is lost as long as chunks are fed
// in arrival order.
//
// A Reassembler is not safe for concurrent use; callers feeding it from
// several goroutines must serialize calls to Feed.
type Reassembler struct {
	remainder [MaxRemainder]byte
	held      int
	work      []byte
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Reset drops any partial sample
func (r *Reassembler) Reset() {
	r.held = 0
}

// Remainder returns the number of bytes held from an incomplete sample.
// The value is always in [0, MaxRemainder].
func (r *Reassembler) Remainder() int {
	return r.held
}

// Feed consumes one chunk and returns the samples it completed, in
// arrival order. The trailing partial sample, if any, is kept for the
// next call.
func (r *Reassembler) Feed(chunk []byte) []Sample {
	total := r.held + len(chunk)
	if total < SampleSize {
		copy(r.remainder[r.held:], chunk)
		r.held = total
		return nil
	}

	// Splice remainder and chunk into one contiguous buffer
	data := chunk
	if r.held > 0 {
		r.work = append(r.work[:0], r.remainder[:r.held]...)
		r.work = append(r.work, chunk...)
		data = r.work
	}

	count := total / SampleSize
	samples := make([]Sample, count)
	for i := 0; i < count; i++ {
		samples[i] = DecodeSample(data[i*SampleSize:])
	}

	consumed := count * SampleSize
	r.held = copy(r.remainder[:], data[consumed:])
	return samples
}

// Stream returns an iterator over the samples completed by a sequence of
// chunks. Iteration pulls chunks lazily and stops when either side stops.
func (r *Reassembler) Stream(chunks iter.Seq[[]byte]) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for chunk := range chunks {
			for _, s := range r.Feed(chunk) {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Pump feeds chunks from in and sends each non-empty batch of samples to
// out. It returns when in is closed or ctx is cancelled; out is not closed.
func (r *Reassembler) Pump(ctx context.Context, in <-chan []byte, out chan<- []Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			samples := r.Feed(chunk)
			if len(samples) == 0 {
				continue
			}
			select {
			case out <- samples:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ChunkSeq adapts a channel of chunks to an iterator, ending when the
// channel is closed or ctx is cancelled.
func ChunkSeq(ctx context.Context, in <-chan []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-in:
				if !ok || !yield(chunk) {
					return
				}
			}
		}
	}
}
