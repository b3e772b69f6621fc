// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/internal/export"
	"github.com/Thermoquad/voltstat/internal/session"
	"github.com/Thermoquad/voltstat/pkg/estat"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	actionTimeout = 5 * time.Second
	kindListWidth = 30
	plotHeight    = 12
	plotMinWidth  = 20
)

// focusKinds is the technique list; fields follow it, then the button
const focusKinds = 0

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlSession is the part of a session the control TUI drives
type controlSession interface {
	statsSource
	Samples() []estat.Sample
	SetParams(p estat.Params) error
	Apply(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var kindDescriptions = map[estat.Kind]string{
	estat.KindCV:  "Cyclic voltammetry",
	estat.KindSWV: "Square wave voltammetry",
	estat.KindDPV: "Differential pulse voltammetry",
	estat.KindCA:  "Chronoamperometry",
}

// kindItem implements list.Item
type kindItem estat.Kind

func (k kindItem) Title() string       { return estat.Kind(k).String() }
func (k kindItem) Description() string { return kindDescriptions[estat.Kind(k)] }
func (k kindItem) FilterValue() string { return estat.Kind(k).String() }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	sess      controlSession
	connInfo  string
	connected bool

	// Export
	exportDir     string
	exportFormats []string

	// Experiment form
	kindList list.Model
	kind     estat.Kind
	fields   []config.Field
	inputs   []textinput.Model
	focus    int

	// Run
	state   session.State
	stats   estat.Statistics
	samples []estat.Sample
	plot    samplePlot
	busy    bool

	log      eventLog
	styles   styles
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

// actionResultMsg reports a finished device command
type actionResultMsg struct {
	action string
	err    error
}

type exportDoneMsg struct {
	paths []string
	err   error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(sess controlSession, connInfo, exportDir string, exportFormats []string) controlModel {
	kinds := estat.Kinds()
	items := make([]list.Item, len(kinds))
	for i, k := range kinds {
		items[i] = kindItem(k)
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	kindList := list.New(items, delegate, kindListWidth-2, 10)
	kindList.Title = "Technique"
	kindList.SetShowStatusBar(false)
	kindList.SetShowHelp(false)
	kindList.SetFilteringEnabled(false)

	m := controlModel{
		sess:          sess,
		connInfo:      connInfo,
		connected:     true,
		exportDir:     exportDir,
		exportFormats: exportFormats,
		kindList:      kindList,
		state:         sess.State(),
		stats:         sess.Statistics(),
		log:           newEventLog(100),
		styles:        newStyles(),
		width:         80,
		height:        24,
	}
	m.plot = newSamplePlot(m.plotWidth(), plotHeight, estat.AxisTime, estat.AxisCurrent)

	kind := estat.KindCV
	if p := sess.Params(); p != nil {
		kind = p.Kind()
	}
	for i, k := range kinds {
		if k == kind {
			m.kindList.Select(i)
		}
	}
	m.selectKind(kind)
	m.samples = sess.Samples()
	m.plot.draw(m.samples)
	return m
}

// selectKind rebuilds the parameter form for k. The form starts from the
// session's parameters when they are of kind k, otherwise from the
// technique defaults.
func (m *controlModel) selectKind(k estat.Kind) {
	m.kind = k
	m.plot.x, m.plot.y = estat.DefaultAxes(k)
	m.plot.draw(m.samples)
	m.fields = config.Fields(k)

	p := estat.DefaultParams(k)
	if cur := m.sess.Params(); cur != nil && cur.Kind() == k {
		p = cur
	}
	values := config.ParamsToValues(p)

	m.inputs = make([]textinput.Model, len(m.fields))
	for i, f := range m.fields {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 12
		ti.Width = 12
		ti.Placeholder = formatValue(values[f.Name])
		ti.SetValue(formatValue(values[f.Name]))
		m.inputs[i] = ti
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tickCmd()
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height / 3
		if listHeight < 8 {
			listHeight = 8
		}
		m.kindList.SetSize(kindListWidth-2, listHeight)
		m.plot.resize(m.plotWidth(), plotHeight)
		m.plot.draw(m.samples)

	case tickMsg:
		m.stats = m.sess.Statistics()
		m.state = m.sess.State()
		m.samples = m.sess.Samples()
		m.plot.draw(m.samples)
		return m, tickCmd()

	case eventBatchMsg:
		m.applyEvents(msg.events)
		m.plot.draw(m.samples)

	case actionResultMsg:
		m.busy = false
		if msg.err != nil {
			m.log.add(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.log.add(msg.action+" sent", false)
		}
		m.state = m.sess.State()

	case exportDoneMsg:
		if msg.err != nil {
			m.log.add(fmt.Sprintf("Export failed: %v", msg.err), true)
		}
		for _, path := range msg.paths {
			m.log.add("Exported "+path, false)
		}

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
func (m *controlModel) applyEvents(events []interface{}) {
	for _, ev := range events {
		switch e := ev.(type) {
		case session.StateEvent:
			m.state = e.To
			if e.To == session.StateRunning {
				m.samples = nil
			}
		case session.SamplesEvent:
			m.samples = append(m.samples, e.Samples...)
		}
		for _, entry := range describeEvent(ev, false) {
			m.log.push(entry)
		}
	}
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	onInput := m.inputFocused()

	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	if !onInput {
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "a":
			return m.apply()
		case "e":
			return m.exportRun()
		case "x":
			m.plot.x = m.plot.x.Next()
			m.plot.draw(m.samples)
			return m, nil
		case "y":
			m.plot.y = m.plot.y.Next()
			m.plot.draw(m.samples)
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch {
	case m.focus == focusKinds:
		m.kindList, cmd = m.kindList.Update(msg)
		if item, ok := m.kindList.SelectedItem().(kindItem); ok && estat.Kind(item) != m.kind {
			m.selectKind(estat.Kind(item))
		}
	case onInput:
		i := m.focus - 1
		m.inputs[i], cmd = m.inputs[i].Update(msg)
	}
	return m, cmd
}

func (m *controlModel) plotWidth() int {
	return max(m.width-8, plotMinWidth)
}

func (m *controlModel) buttonFocus() int {
	return len(m.inputs) + 1
}

func (m *controlModel) inputFocused() bool {
	return m.focus > focusKinds && m.focus < m.buttonFocus()
}

// cycleFocus moves focus through the technique list, the fields and the
// button. The fields are skipped while a run is active.
func (m *controlModel) cycleFocus(delta int) {
	n := m.buttonFocus() + 1
	for {
		m.focus = (m.focus + delta + n) % n
		if !m.state.Active() || !m.inputFocused() {
			break
		}
	}

	for i := range m.inputs {
		if i == m.focus-1 {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	switch {
	case m.inputFocused():
		m.setParams()
		return m, nil
	case m.focus == m.buttonFocus():
		if m.state.Active() {
			return m.stopRun()
		}
		return m.startRun()
	}
	return m, nil
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// formParams parses the form into a parameter set of the selected kind
func (m *controlModel) formParams() (estat.Params, error) {
	values := make(map[string]float64, len(m.fields))
	for i, f := range m.fields {
		text := strings.TrimSpace(m.inputs[i].Value())
		if text == "" {
			text = m.inputs[i].Placeholder
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", f.Label, text)
		}
		values[f.Name] = v
	}
	return config.ParamsFromValues(m.kind, values)
}

// setParams validates the form and stores it in the session. It reports
// whether the session accepted it.
func (m *controlModel) setParams() bool {
	p, err := m.formParams()
	if err != nil {
		m.log.add(err.Error(), true)
		return false
	}

	if err := m.sess.SetParams(p); err != nil {
		var invalid *session.InvalidParamsError
		if errors.As(err, &invalid) {
			for _, v := range invalid.Errors {
				m.log.add("Invalid parameter: "+v.Message, true)
			}
		} else {
			m.log.add(err.Error(), true)
		}
		m.state = m.sess.State()
		return false
	}

	m.state = m.sess.State()
	m.log.add(fmt.Sprintf("%s parameters set", m.kind), false)
	return true
}

func (m controlModel) startRun() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	if !m.connected {
		m.log.add("Cannot start: connection lost", true)
		return m, nil
	}
	if !m.setParams() {
		return m, nil
	}
	m.busy = true
	return m, sessionCmd("Start", m.sess.Start)
}

func (m controlModel) stopRun() (tea.Model, tea.Cmd) {
	if m.busy || m.state == session.StateStopping {
		return m, nil
	}
	m.busy = true
	return m, sessionCmd("Stop", m.sess.Stop)
}

// apply writes the form to the device without starting a run
func (m controlModel) apply() (tea.Model, tea.Cmd) {
	if m.busy || m.state.Active() {
		return m, nil
	}
	if !m.setParams() {
		return m, nil
	}
	m.busy = true
	return m, sessionCmd("Apply", m.sess.Apply)
}

// sessionCmd runs a blocking session call outside the update loop
func sessionCmd(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{action: action, err: fn(ctx)}
	}
}

func (m controlModel) exportRun() (tea.Model, tea.Cmd) {
	samples := m.sess.Samples()
	if len(samples) == 0 {
		m.log.add("Nothing to export", true)
		return m, nil
	}
	run := export.Run{
		Params:  m.sess.Params(),
		Started: m.sess.RunStarted(),
		Samples: samples,
	}
	dir, formats := m.exportDir, m.exportFormats
	return m, func() tea.Msg {
		paths, err := export.WriteFiles(dir, "", formats, run)
		return exportDoneMsg{paths: paths, err: err}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	var s strings.Builder
	s.WriteString(st.title.Render("VOLTSTAT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if !m.connected {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit Tab=switch a=apply e=export x/y=axes", connStatus)))
	s.WriteString("\n\n")

	// Technique list | parameter form
	listStyle := st.box.Width(kindListWidth)
	if m.focus == focusKinds {
		listStyle = st.focused.Width(kindListWidth)
	}
	formWidth := m.width - kindListWidth - 6
	if formWidth < 30 {
		formWidth = 30
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(m.kindList.View()),
		" ",
		st.box.Width(formWidth).Render(m.renderForm()),
	))
	s.WriteString("\n")

	s.WriteString(st.box.Width(m.width - 4).Render(renderStats(st, m.stats)))
	s.WriteString("\n")

	s.WriteString(st.label.Render(m.plot.title()))
	s.WriteString("\n")
	s.WriteString(st.box.Width(m.width - 4).Render(m.plot.View()))
	s.WriteString("\n")

	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(st.box.Width(m.width - 4).Render(m.log.render(st, 6)))

	return s.String()
}

func (m controlModel) renderForm() string {
	st := m.styles
	var s strings.Builder

	s.WriteString(fmt.Sprintf("%s %s   %s %s\n\n",
		st.label.Render("Technique:"), st.value.Render(m.kind.String()),
		st.label.Render("State:"), st.stateStyle(m.state).Render(m.state.String())))

	for i, f := range m.fields {
		label := f.Label
		if f.Unit != "" {
			label += " (" + f.Unit + ")"
		}
		s.WriteString(st.label.Render(fmt.Sprintf("%-20s", label)))
		s.WriteString(" ")
		if m.focus == i+1 {
			s.WriteString(m.inputs[i].View())
		} else {
			s.WriteString(fmt.Sprintf("[%s]", m.inputs[i].Value()))
		}
		s.WriteString("\n")
	}
	s.WriteString("\n")

	btnText := "[ Start ]"
	switch m.state {
	case session.StateRunning:
		btnText = "[ Stop ]"
	case session.StateStopping:
		btnText = "[ Stopping... ]"
	}
	if m.state.Active() {
		s.WriteString(st.header.Render(fmt.Sprintf("Running for %s, %d samples  ",
			formatElapsed(time.Since(m.sess.RunStarted())), len(m.samples))))
	}

	button := lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12")).Padding(0, 2)
	if m.focus == m.buttonFocus() {
		button = button.Background(lipgloss.Color("10"))
	}
	s.WriteString(button.Render(btnText))
	return s.String()
}
