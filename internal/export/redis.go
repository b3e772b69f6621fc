// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/internal/hub"
	"github.com/Thermoquad/voltstat/internal/session"
)

// RedisOptions configures the Redis sink
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	Channel    string // samples are published here, states on Channel+":state"
	ListLength int64  // recent batches kept in the Channel+":recent" list, 0 disables
}

// SampleRecord is one sample in a published batch
type SampleRecord struct {
	Time    uint32  `json:"t"`
	Voltage int32   `json:"v"`
	Current float32 `json:"i"`
}

// SampleBatch is the JSON message published for one telemetry chunk
type SampleBatch struct {
	Total   int            `json:"total"`
	Samples []SampleRecord `json:"samples"`
}

// StateMessage is the JSON message published for a state transition
type StateMessage struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Cause string    `json:"cause"`
	Time  time.Time `json:"time"`
}

// RedisSink publishes session events to Redis Pub/Sub and keeps a capped
// list of recent sample batches
type RedisSink struct {
	client  *redis.Client
	opts    RedisOptions
	listKey string
	log     *logrus.Entry
}

// NewRedisSink connects and pings the server
func NewRedisSink(ctx context.Context, opts RedisOptions, log *logrus.Entry) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log.WithField("addr", opts.Addr).Info("Redis connected")

	return &RedisSink{
		client:  client,
		opts:    opts,
		listKey: opts.Channel + ":recent",
		log:     log,
	}, nil
}

// PublishSamples publishes one batch and appends it to the recent list
func (r *RedisSink) PublishSamples(ctx context.Context, e session.SamplesEvent) error {
	batch := SampleBatch{Total: e.Total, Samples: make([]SampleRecord, len(e.Samples))}
	for i, s := range e.Samples {
		batch.Samples[i] = SampleRecord{Time: s.Time, Voltage: s.Voltage, Current: s.Current}
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode sample batch: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.opts.Channel, data)
	if r.opts.ListLength > 0 {
		pipe.LPush(ctx, r.listKey, data)
		pipe.LTrim(ctx, r.listKey, 0, r.opts.ListLength-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish samples: %w", err)
	}
	return nil
}

// PublishState publishes one state transition
func (r *RedisSink) PublishState(ctx context.Context, e session.StateEvent) error {
	data, err := json.Marshal(StateMessage{
		From:  e.From.String(),
		To:    e.To.String(),
		Cause: e.Cause,
		Time:  e.Time,
	})
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := r.client.Publish(ctx, r.opts.Channel+":state", data).Err(); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// Consume forwards hub events until ctx is done or the subscription
// closes. Publish failures are logged and do not stop the sink.
func (r *RedisSink) Consume(ctx context.Context, sub *hub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			var err error
			switch e := msg.(type) {
			case session.SamplesEvent:
				err = r.PublishSamples(ctx, e)
			case session.StateEvent:
				err = r.PublishState(ctx, e)
			}
			if err != nil && ctx.Err() == nil {
				r.log.WithError(err).Warn("Redis publish failed")
			}
		}
	}
}

// Recent returns up to n of the most recent batches, newest first
func (r *RedisSink) Recent(ctx context.Context, n int64) ([]SampleBatch, error) {
	raw, err := r.client.LRange(ctx, r.listKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	batches := make([]SampleBatch, 0, len(raw))
	for _, s := range raw {
		var b SampleBatch
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			return nil, fmt.Errorf("invalid batch in %s: %w", r.listKey, err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Close closes the client
func (r *RedisSink) Close() error {
	return r.client.Close()
}
