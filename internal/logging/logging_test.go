// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"", logrus.InfoLevel},
		{"nonsense", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, closer, err := New(Config{Level: tt.level})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer closer.Close()
			if log.GetLevel() != tt.want {
				t.Errorf("GetLevel() = %v, want %v", log.GetLevel(), tt.want)
			}
		})
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New() error = nil, want unknown format error")
	}
}

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voltstat.log")
	log, closer, err := New(Config{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	Component(log, "session").WithField("state", "RUNNING").Info("state changed")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	line := string(data)
	for _, want := range []string{`"component":"session"`, `"state":"RUNNING"`, `"msg":"state changed"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
