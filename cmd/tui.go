// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/voltstat/internal/hub"
	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// eventLog keeps the most recent entries shown in a TUI
type eventLog struct {
	entries []errorLogEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{entries: make([]errorLogEntry, 0), max: max}
}

func (l *eventLog) add(message string, isError bool) {
	l.push(errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
}

func (l *eventLog) push(entry errorLogEntry) {
	l.entries = append(l.entries, entry)

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// render draws the last height entries
func (l *eventLog) render(st styles, height int) string {
	var content strings.Builder

	startIdx := len(l.entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	if len(l.entries) == 0 {
		content.WriteString(st.header.Render("  (no events yet)"))
		return content.String()
	}

	for i := startIdx; i < len(l.entries); i++ {
		entry := l.entries[i]
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			content.WriteString(fmt.Sprintf("%s %s\n",
				st.header.Render(timestamp),
				st.error.Render("✗ "+entry.message),
			))
		} else {
			content.WriteString(fmt.Sprintf("%s %s\n",
				st.header.Render(timestamp),
				st.warning.Render("ℹ "+entry.message),
			))
		}
	}
	return content.String()
}

// styles shared by the TUIs
type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	error   lipgloss.Style
	warning lipgloss.Style
	box     lipgloss.Style
	focused lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		focused: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1),
	}
}

// stateStyle colors a session state
func (st styles) stateStyle(s session.State) lipgloss.Style {
	switch s {
	case session.StateRunning:
		return st.value.Bold(true)
	case session.StateStopping:
		return st.warning.Bold(true)
	case session.StateConfiguring:
		return st.label
	default:
		return st.header
	}
}

// Messages
type tickMsg time.Time

// eventBatchMsg carries hub events collected since the previous batch,
// in publish order
type eventBatchMsg struct {
	events []interface{}
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	info string
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// batchInterval is how often hub events are delivered to a TUI
const batchInterval = 50 * time.Millisecond

// forwardEvents sends hub events to the program in batches at a fixed
// rate until done is closed or the subscription ends
func forwardEvents(p *tea.Program, sub *hub.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	var batch eventBatchMsg
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C:
			if !ok {
				if len(batch.events) > 0 {
					p.Send(batch)
				}
				return
			}
			batch.events = append(batch.events, msg)
		case <-ticker.C:
			if len(batch.events) > 0 {
				p.Send(batch)
				batch = eventBatchMsg{}
			}
		}
	}
}

// formatElapsed formats a run duration
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(100 * time.Millisecond)

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := d.Seconds() - float64(hours*3600+minutes*60)

	if hours > 0 {
		return fmt.Sprintf("%dh %02dm %04.1fs", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %04.1fs", minutes, seconds)
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// renderStats draws the telemetry counters of a run
func renderStats(st styles, stats estat.Statistics) string {
	stats.CalculateRates()

	var anomalousPercent float64
	if stats.Samples > 0 {
		anomalousPercent = float64(stats.AnomalousValues) * 100.0 / float64(stats.Samples)
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Samples:"), st.value.Render(fmt.Sprintf("%d", stats.Samples)),
		st.label.Render("Notifications:"), st.value.Render(fmt.Sprintf("%d", stats.Chunks)),
		st.label.Render("Status:"), st.value.Render(fmt.Sprintf("%d", stats.StatusUpdates)),
	))

	if stats.AnomalousValues > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			st.label.Render("Anomalous:"), st.warning.Render(fmt.Sprintf("%d (%.1f%%)", stats.AnomalousValues, anomalousPercent)),
			st.header.Render("voltage range"), stats.VoltageRange,
			st.header.Render("non-finite current"), stats.NonFinite,
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		st.label.Render("Sample Rate:"), st.value.Render(fmt.Sprintf("%.1f /s", stats.SampleRate)),
		st.label.Render("Byte Rate:"), st.value.Render(fmt.Sprintf("%.0f B/s", stats.ByteRate)),
		st.label.Render("Max Remainder:"), st.value.Render(fmt.Sprintf("%d B", stats.MaxRemainder)),
	))
	return content.String()
}

// describeEvent formats a hub event for the event log. Samples are only
// described when they carry anomalies or showAll is set.
func describeEvent(msg interface{}, showAll bool) []errorLogEntry {
	switch e := msg.(type) {
	case session.StateEvent:
		return []errorLogEntry{{
			timestamp: e.Time,
			message:   fmt.Sprintf("%s → %s (%s)", e.From, e.To, e.Cause),
			isError:   e.Cause == "disconnected",
		}}

	case session.SamplesEvent:
		var entries []errorLogEntry
		for _, s := range e.Samples {
			issues := estat.ValidateSample(s)
			for _, issue := range issues {
				entries = append(entries, errorLogEntry{
					timestamp: time.Now(),
					message:   fmt.Sprintf("t=%d ms: %s", s.Time, issue.Message),
					isError:   true,
				})
			}
			if showAll && len(issues) == 0 {
				entries = append(entries, errorLogEntry{
					timestamp: time.Now(),
					message:   estat.FormatSample(s),
				})
			}
		}
		return entries
	}
	return nil
}
