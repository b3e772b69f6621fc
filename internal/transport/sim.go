// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

// SimConfig controls the simulated instrument
type SimConfig struct {
	Samples  int           `yaml:"samples"`   // samples per run
	Interval time.Duration `yaml:"interval"`  // delay between notifications
	MaxChunk int           `yaml:"max_chunk"` // largest notification in bytes
	Seed     int64         `yaml:"seed"`      // 0 picks a time-based seed
}

// DefaultSimConfig returns the simulator defaults
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Samples:  200,
		Interval: 5 * time.Millisecond,
		MaxChunk: 20,
	}
}

// Sim is an in-process potentiostat. It accepts configuration records,
// answers a start command with a running status, streams synthetic
// samples split into random-sized notifications and reports idle when
// the run completes or is stopped.
type Sim struct {
	cfg SimConfig
	log *logrus.Entry

	mu       sync.Mutex
	rng      *rand.Rand
	params   estat.Params
	running  bool
	stopRun  context.CancelFunc
	closed   bool
	writeErr error

	configWrites  [][]byte
	controlWrites []byte

	status  *notifier
	results *notifier
	wg      sync.WaitGroup
}

// NewSim creates a simulated device
func NewSim(cfg SimConfig, log *logrus.Entry) *Sim {
	def := DefaultSimConfig()
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = def.MaxChunk
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Sim{
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(seed)),
		status:  newNotifier(),
		results: newNotifier(),
	}
}

// FailWrites makes every following write return err. Pass nil to recover.
func (s *Sim) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// WriteConfig decodes and stores an experiment record
func (s *Sim) WriteConfig(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}

	s.configWrites = append(s.configWrites, append([]byte(nil), record...))

	params, err := estat.DecodeParams(record)
	if err != nil {
		return fmt.Errorf("simulator rejected record: %w", err)
	}
	s.params = params
	s.log.WithField("kind", params.Kind().String()).Debug("Simulator configured")
	return nil
}

// WriteControl starts or stops a simulated run
func (s *Sim) WriteControl(ctx context.Context, b byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}

	s.controlWrites = append(s.controlWrites, b)

	switch b {
	case estat.ControlStart:
		if s.running {
			return nil
		}
		if s.params == nil {
			return fmt.Errorf("simulator has no configuration")
		}
		data, chunks := s.makeStream(s.params)
		runCtx, cancel := context.WithCancel(context.Background())
		s.running = true
		s.stopRun = cancel
		s.wg.Add(1)
		go s.run(runCtx, s.params, data, chunks)

	case estat.ControlStop:
		if s.stopRun != nil {
			s.stopRun()
		}

	default:
		s.log.WithField("byte", fmt.Sprintf("0x%02X", b)).Warn("Simulator ignoring unknown control byte")
	}
	return nil
}

// makeStream renders one run's samples to wire bytes and chunk sizes.
// Called with s.mu held.
func (s *Sim) makeStream(p estat.Params) (data []byte, chunks []int) {
	n := s.cfg.Samples
	data = make([]byte, 0, n*estat.SampleSize)
	for i := 0; i < n; i++ {
		sample := SimulateSample(p, i, n)
		sample.Current += float32(s.rng.NormFloat64() * 0.02)
		data = estat.AppendSample(data, sample)
	}

	for remaining := len(data); remaining > 0; {
		size := s.rng.Intn(s.cfg.MaxChunk) + 1
		if size > remaining {
			size = remaining
		}
		chunks = append(chunks, size)
		remaining -= size
	}
	return data, chunks
}

func (s *Sim) run(ctx context.Context, p estat.Params, stream []byte, chunks []int) {
	defer s.wg.Done()

	s.log.WithFields(logrus.Fields{
		"kind":    p.Kind().String(),
		"samples": s.cfg.Samples,
		"chunks":  len(chunks),
	}).Debug("Simulated run started")

	s.status.publish([]byte{estat.StatusRunning})

	offset := 0
loop:
	for _, size := range chunks {
		if s.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(s.cfg.Interval):
			}
		} else if ctx.Err() != nil {
			break loop
		}
		s.results.publish(stream[offset : offset+size])
		offset += size
	}

	s.mu.Lock()
	s.running = false
	s.stopRun = nil
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.status.publish([]byte{0x00})
	}
	s.log.WithField("bytes", offset).Debug("Simulated run finished")
}

// SimulateSample returns the noise-free sample i of n for a technique.
// Potentials follow the programmed waveform and current follows a
// sigmoid around 0 mV.
func SimulateSample(p estat.Params, i, n int) estat.Sample {
	frac := 0.0
	if n > 1 {
		frac = float64(i) / float64(n-1)
	}

	var mv float64
	var stepMS float64 = 10

	switch v := p.(type) {
	case estat.CVParams:
		// init -> vertex1 -> vertex2 -> init, repeated per scan
		scans := math.Max(float64(v.Scans), 1)
		phase := math.Mod(frac*scans, 1) * 3
		switch {
		case phase < 1:
			mv = lerp(float64(v.InitE), float64(v.Vertex1), phase)
		case phase < 2:
			mv = lerp(float64(v.Vertex1), float64(v.Vertex2), phase-1)
		default:
			mv = lerp(float64(v.Vertex2), float64(v.InitE), phase-2)
		}
		if v.ScanRate > 0 {
			span := math.Abs(float64(v.Vertex1-v.InitE)) + math.Abs(float64(v.Vertex2-v.Vertex1)) + math.Abs(float64(v.InitE-v.Vertex2))
			stepMS = span * scans / float64(v.ScanRate) * 1000 / math.Max(float64(n), 1)
		}
	case estat.SWVParams:
		mv = lerp(float64(v.InitE), float64(v.FinalE), frac)
		if v.Frequency > 0 {
			stepMS = 1000 / float64(v.Frequency)
		}
	case estat.DPVParams:
		mv = lerp(float64(v.InitE), float64(v.FinalE), frac)
		if v.Frequency > 0 {
			stepMS = 1000 / float64(v.Frequency)
		}
	case estat.CAParams:
		steps := []struct {
			e int32
			d uint32
		}{{v.E1, v.Duration1}, {v.E2, v.Duration2}, {v.E3, v.Duration3}}
		var total float64
		for _, st := range steps {
			total += float64(st.d)
		}
		// zero-duration steps are skipped
		t := frac * total
		mv = float64(v.InitE)
		var elapsed float64
		for _, st := range steps {
			if st.d == 0 {
				continue
			}
			mv = float64(st.e)
			elapsed += float64(st.d)
			if t < elapsed {
				break
			}
		}
		if n > 0 {
			stepMS = total / float64(n)
		}
	}

	return estat.Sample{
		Time:    uint32(float64(i) * stepMS),
		Voltage: int32(math.Round(mv)),
		Current: float32(10 * math.Tanh(mv/150)),
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// ConfigWrites returns the records written so far
func (s *Sim) ConfigWrites() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.configWrites...)
}

// ControlWrites returns the control bytes written so far
func (s *Sim) ControlWrites() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.controlWrites...)
}

// Running reports whether a simulated run is in progress
func (s *Sim) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// EmitStatus pushes a status notification as if the device sent it
func (s *Sim) EmitStatus(b byte) {
	s.status.publish([]byte{b})
}

// EmitResults pushes a results notification as if the device sent it
func (s *Sim) EmitResults(chunk []byte) {
	s.results.publish(chunk)
}

// SubscribeStatus implements Device
func (s *Sim) SubscribeStatus(ctx context.Context) (<-chan []byte, error) {
	return s.status.subscribe(ctx)
}

// SubscribeResults implements Device
func (s *Sim) SubscribeResults(ctx context.Context) (<-chan []byte, error) {
	return s.results.subscribe(ctx)
}

// Subscribers returns the number of live status and results subscriptions
func (s *Sim) Subscribers() int {
	return s.status.subscribers() + s.results.subscribers()
}

// Close stops any run and ends all subscriptions
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.stopRun != nil {
		s.stopRun()
	}
	s.mu.Unlock()

	s.status.close()
	s.results.close()
	s.wg.Wait()
	return nil
}

// Info describes the device
func (s *Sim) Info() string {
	return fmt.Sprintf("Simulator: %d samples/run", s.cfg.Samples)
}
