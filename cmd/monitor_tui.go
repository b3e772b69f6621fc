// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

// statsSource is the part of a session the monitor reads
type statsSource interface {
	State() session.State
	Params() estat.Params
	Statistics() estat.Statistics
	RunStarted() time.Time
}

// Monitor TUI model
type monitorModel struct {
	src        statsSource
	connInfo   string
	connected  bool
	showAll    bool
	state      session.State
	stats      estat.Statistics
	total      int
	lastSample *estat.Sample
	log        eventLog
	styles     styles
	width      int
	height     int
	quitting   bool
}

func initialMonitorModel(src statsSource, connInfo string, showAll bool) monitorModel {
	return monitorModel{
		src:       src,
		connInfo:  connInfo,
		connected: true,
		showAll:   showAll,
		state:     src.State(),
		stats:     src.Statistics(),
		log:       newEventLog(100),
		styles:    newStyles(),
		width:     80,
		height:    24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats = m.src.Statistics()
		m.state = m.src.State()
		return m, tickCmd()

	case eventBatchMsg:
		m.applyEvents(msg.events)

	case connectionLostMsg:
		m.connected = false
		m.log.add(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case reconnectedMsg:
		m.connected = true
		m.connInfo = msg.info
		m.log.add("Reconnected: "+msg.info, false)
	}

	return m, nil
}

// applyEvents merges a batch of hub events into the model
func (m *monitorModel) applyEvents(events []interface{}) {
	for _, ev := range events {
		switch e := ev.(type) {
		case session.StateEvent:
			m.state = e.To
			if e.To == session.StateRunning {
				m.total = 0
				m.lastSample = nil
			}
		case session.SamplesEvent:
			if len(e.Samples) > 0 {
				last := e.Samples[len(e.Samples)-1]
				m.lastSample = &last
			}
			m.total = e.Total
		}
		for _, entry := range describeEvent(ev, m.showAll) {
			m.log.push(entry)
		}
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	// Header
	var s strings.Builder
	s.WriteString(st.title.Render("VOLTSTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All samples"
			}
			return "Anomalies only"
		}())))
	s.WriteString("\n\n")

	// Connection and run state
	if !m.connected {
		s.WriteString(st.error.Render("✗ Disconnected, reconnecting..."))
	} else {
		s.WriteString(st.label.Render("State: "))
		s.WriteString(st.stateStyle(m.state).Render(m.state.String()))
		if m.state.Active() {
			s.WriteString(st.header.Render(fmt.Sprintf("  running for %s", formatElapsed(time.Since(m.src.RunStarted())))))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	s.WriteString(st.box.Render(renderStats(st, m.stats)))
	s.WriteString("\n\n")

	// Latest sample (only shown once samples arrived)
	if m.lastSample != nil {
		s.WriteString(st.label.Render("Latest Sample:"))
		s.WriteString("\n")

		var sample strings.Builder
		sample.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			st.label.Render("Time:"), st.value.Render(fmt.Sprintf("%d ms", m.lastSample.Time)),
			st.label.Render("Voltage:"), st.value.Render(fmt.Sprintf("%d mV", m.lastSample.Voltage)),
			st.label.Render("Current:"), st.value.Render(estat.FormatCurrent(m.lastSample.Current)+" uA"),
		))
		sample.WriteString(fmt.Sprintf("%s %s", st.label.Render("Samples this run:"), st.value.Render(fmt.Sprintf("%d", m.total))))
		if p := m.src.Params(); p != nil {
			sample.WriteString(fmt.Sprintf("   %s %s", st.label.Render("Experiment:"), st.value.Render(p.Kind().String())))
		}

		s.WriteString(st.box.Render(sample.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 17 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(st.box.Width(m.width - 4).Render(m.log.render(st, logHeight)))

	return s.String()
}
