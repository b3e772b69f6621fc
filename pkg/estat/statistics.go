// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estat

import (
	"fmt"
	"time"
)

// Statistics tracks telemetry throughput and anomaly counts
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Chunks          uint64
	Bytes           uint64
	Samples         uint64
	StatusUpdates   uint64
	AnomalousValues uint64
	VoltageRange    uint64
	NonFinite       uint64
	MaxRemainder    int

	// Rates (calculated)
	SampleRate float64 // samples/sec
	ByteRate   float64 // bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// UpdateChunk records one telemetry notification and the samples it
// completed. remainder is the reassembler's held byte count afterwards.
func (s *Statistics) UpdateChunk(chunkLen int, samples []Sample, remainder int) {
	s.Chunks++
	s.Bytes += uint64(chunkLen)
	s.Samples += uint64(len(samples))
	if remainder > s.MaxRemainder {
		s.MaxRemainder = remainder
	}

	for _, sample := range samples {
		for _, err := range ValidateSample(sample) {
			switch err.Type {
			case AnomalyVoltageRange:
				s.VoltageRange++
				s.AnomalousValues++
			case AnomalyNonFiniteCurrent:
				s.NonFinite++
				s.AnomalousValues++
			}
		}
	}

	s.LastUpdateTime = time.Now()
}

// UpdateStatus records one status notification
func (s *Statistics) UpdateStatus() {
	s.StatusUpdates++
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates sample and byte rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.SampleRate = float64(s.Samples) / elapsed
		s.ByteRate = float64(s.Bytes) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var anomalousPercent float64
	if s.Samples > 0 {
		anomalousPercent = float64(s.AnomalousValues) * 100.0 / float64(s.Samples)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Notifications:   %8d\n", s.Chunks)
	result += fmt.Sprintf("Bytes:           %8d\n", s.Bytes)
	result += fmt.Sprintf("Samples:         %8d\n", s.Samples)
	result += fmt.Sprintf("Status Updates:  %8d\n", s.StatusUpdates)

	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, anomalousPercent)
		if s.VoltageRange > 0 {
			result += fmt.Sprintf("  Voltage Range:    %5d\n", s.VoltageRange)
		}
		if s.NonFinite > 0 {
			result += fmt.Sprintf("  Non-finite I:     %5d\n", s.NonFinite)
		}
	}

	result += fmt.Sprintf("Max Remainder:   %8d bytes\n", s.MaxRemainder)
	result += fmt.Sprintf("Sample Rate:     %8.1f samples/sec\n", s.SampleRate)
	result += fmt.Sprintf("Byte Rate:       %8.1f bytes/sec\n", s.ByteRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
