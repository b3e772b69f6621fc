// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/voltstat/internal/export"
	"github.com/Thermoquad/voltstat/internal/hub"
	"github.com/Thermoquad/voltstat/internal/metrics"
	"github.com/Thermoquad/voltstat/internal/session"
)

// services are the optional consumers attached to a session
type services struct {
	hub   *hub.Hub
	redis *export.RedisSink
}

// startServices attaches the event hub to sess and starts the metrics
// endpoint and Redis sink when enabled. Everything stops with ctx.
func startServices(ctx context.Context, sess *session.Session, log *logrus.Entry) (*services, error) {
	svc := &services{hub: hub.New(hub.DefaultCapacity)}
	sess.AddObserver(svc.hub)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		m.TrackStatistics(sess.Statistics)
		sess.AddObserver(m)

		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log.WithField("service", "metrics")); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if cfg.Redis.Enabled {
		sink, err := export.NewRedisSink(ctx, cfg.Redis.Options(), log.WithField("service", "redis"))
		if err != nil {
			svc.hub.Close()
			return nil, err
		}
		svc.redis = sink
		go sink.Consume(ctx, svc.hub.Subscribe())
	}

	return svc, nil
}

// close shuts the hub and the sink down
func (s *services) close() {
	s.hub.Close()
	if s.redis != nil {
		s.redis.Close()
	}
}
