// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/validation"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const controlListWidth = 30

// Focus states
const (
	focusRouteList = iota
	focusScenarioList
	focusEnvironmentInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// routeItem adapts a route definition to list.Item
type routeItem struct {
	def route.Definition
}

func (r routeItem) Title() string { return fmt.Sprintf("%d  %s", r.def.ID, r.def.Name) }
func (r routeItem) Description() string {
	return fmt.Sprintf("%d steps, %d passes", len(r.def.Steps), max(r.def.RepeatCount, 1))
}
func (r routeItem) FilterValue() string { return r.def.Name }

type scenarioItem string

func (s scenarioItem) Title() string       { return string(s) }
func (s scenarioItem) Description() string { return "" }
func (s scenarioItem) FilterValue() string { return string(s) }

type controlLogEntry struct {
	timestamp time.Time
	message   string
	level     runlog.Level
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	client   *apiClient
	connInfo string

	routeList    list.Model
	scenarioList list.Model
	envInput     textinput.Model
	focusedField int

	// Live state from the event stream
	state      *robot.State
	faults     *faults.Config
	lastResult *validation.Result

	// Stream statistics
	streamUp       bool
	messages       uint64
	rateWindow     uint64
	messageRate    float64
	lastRateUpdate time.Time

	eventLog      []controlLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	messages []streamMessage
}

type streamUpMsg struct{}

type streamDownMsg struct {
	err error
}

type routesLoadedMsg struct {
	routes []route.Definition
	err    error
}

type scenariosLoadedMsg struct {
	names []string
	err   error
}

// commandDoneMsg reports the outcome of an API call
type commandDoneMsg struct {
	action string
	err    error
}

type faultsChangedMsg struct {
	action string
	config faults.Config
	err    error
}

type validationDoneMsg struct {
	result    validation.Result
	certified bool
	complete  bool
	err       error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newControlList(title string, showDescription bool) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = showDescription
	if !showDescription {
		delegate.SetHeight(1)
		delegate.SetSpacing(0)
	}
	l := list.New([]list.Item{}, delegate, controlListWidth-2, 10)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	return l
}

func initialControlModel(client *apiClient, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "lab"
	ti.CharLimit = 32
	ti.Width = 20

	return controlModel{
		client:         client,
		connInfo:       connInfo,
		routeList:      newControlList("Routes", true),
		scenarioList:   newControlList("Fault Scenarios", false),
		envInput:       ti,
		focusedField:   focusRouteList,
		eventLog:       make([]controlLogEntry, 0),
		maxLogEntries:  100,
		lastRateUpdate: time.Now(),
		width:          80,
		height:         24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(
		controlTickCmd(),
		m.loadRoutes(),
		m.loadScenarios(),
		m.loadFaults(),
	)
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		// Message rate over the last second
		now := time.Time(msg)
		if elapsed := now.Sub(m.lastRateUpdate).Seconds(); elapsed > 0 {
			m.messageRate = float64(m.rateWindow) / elapsed
		}
		m.rateWindow = 0
		m.lastRateUpdate = now
		return m, controlTickCmd()

	case streamUpMsg:
		m.streamUp = true
		m.addLogEntry("Event stream connected", runlog.LevelInfo)

	case streamDownMsg:
		// Only report the first failure while the server is still coming up
		if m.streamUp {
			m.addLogEntry("Event stream lost - reconnecting...", runlog.LevelWarning)
		} else if msg.err != nil && len(m.eventLog) == 0 {
			m.addLogEntry("Waiting for server: "+msg.err.Error(), runlog.LevelWarning)
		}
		m.streamUp = false

	case controlBatchMsg:
		for _, sm := range msg.messages {
			m.processStreamMessage(sm)
		}

	case routesLoadedMsg:
		if msg.err != nil {
			m.addLogEntry("Failed to load routes: "+msg.err.Error(), runlog.LevelError)
			break
		}
		items := make([]list.Item, len(msg.routes))
		for i, d := range msg.routes {
			items[i] = routeItem{def: d}
		}
		m.routeList.SetItems(items)

	case scenariosLoadedMsg:
		if msg.err != nil {
			m.addLogEntry("Failed to load scenarios: "+msg.err.Error(), runlog.LevelError)
			break
		}
		items := make([]list.Item, len(msg.names))
		for i, name := range msg.names {
			items[i] = scenarioItem(name)
		}
		m.scenarioList.SetItems(items)

	case commandDoneMsg:
		// Results arrive on the event stream; just confirm delivery
		if msg.err != nil {
			m.addLogEntry(msg.action+" failed: "+msg.err.Error(), runlog.LevelError)
		} else {
			m.addLogEntry(msg.action+" sent", runlog.LevelInfo)
		}

	case faultsChangedMsg:
		if msg.err != nil {
			action := msg.action
			if action == "" {
				action = "Loading faults"
			}
			m.addLogEntry(action+" failed: "+msg.err.Error(), runlog.LevelError)
			break
		}
		cfg := msg.config
		m.faults = &cfg
		if msg.action != "" {
			m.addLogEntry(msg.action+": ok", runlog.LevelInfo)
		}

	case validationDoneMsg:
		// Transport errors; a failed validation arrives as a result
		if msg.err != nil {
			m.addLogEntry("Validation failed: "+msg.err.Error(), runlog.LevelError)
			break
		}
		res := msg.result
		m.lastResult = &res
		level := runlog.LevelInfo
		switch res.Status {
		case validation.StatusFail:
			level = runlog.LevelError
		case validation.StatusWarning:
			level = runlog.LevelWarning
		}
		text := fmt.Sprintf("Validation %s: score %d", res.Status, res.Score)
		if msg.certified {
			text += " (certified)"
		}
		if !msg.complete {
			text += " - run still in progress"
		}
		m.addLogEntry(text, level)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
		return m, m.handleEnter()
	}

	// Text entry swallows every other key
	if m.focusedField == focusEnvironmentInput {
		if msg.String() == "esc" {
			m.cycleFocus(1)
			return m, nil
		}
		var cmd tea.Cmd
		m.envInput, cmd = m.envInput.Update(msg)
		return m, cmd
	}

	// Global shortcuts
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "s":
		return m, m.postCommand("Stop", "/api/robot/stop")
	case "e", " ":
		return m, m.postCommand("Emergency stop", "/api/robot/emergency-stop")
	case "x":
		return m, m.postCommand("Reset", "/api/robot/reset")
	case "c":
		return m, m.clearFaults()
	case "o":
		// Obstacle at the robot's current position
		return m, m.injectObstacle()
	case "v":
		return m, m.validateLast()
	}

	// Remaining keys navigate the focused list
	var cmd tea.Cmd
	switch m.focusedField {
	case focusRouteList:
		m.routeList, cmd = m.routeList.Update(msg)
	case focusScenarioList:
		m.scenarioList, cmd = m.scenarioList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) cycleFocus(delta int) {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusEnvironmentInput {
		m.envInput.Focus()
	} else {
		m.envInput.Blur()
	}
}

func (m controlModel) handleEnter() tea.Cmd {
	switch m.focusedField {
	case focusRouteList:
		item, ok := m.routeList.SelectedItem().(routeItem)
		if !ok {
			return nil
		}
		return m.postCommand(fmt.Sprintf("Start route %d", item.def.ID), "/api/routes/"+strconv.Itoa(item.def.ID)+"/start")
	case focusScenarioList:
		item, ok := m.scenarioList.SelectedItem().(scenarioItem)
		if !ok {
			return nil
		}
		return m.applyScenario(string(item))
	case focusEnvironmentInput:
		return m.validateLast()
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Stream Handling
//////////////////////////////////////////////////////////////

func (m *controlModel) processStreamMessage(msg streamMessage) {
	m.messages++
	m.rateWindow++

	switch msg.Type {
	// init carries the same robot state as a state update
	case "init", string(events.KindStateUpdate):
		var st robot.State
		if err := json.Unmarshal(msg.Data, &st); err == nil {
			m.state = &st
		}

	// Debug entries are per-tick chatter
	case string(events.KindLog):
		var entry runlog.Entry
		if err := json.Unmarshal(msg.Data, &entry); err == nil && entry.Level != runlog.LevelDebug {
			m.addLogEntry(entry.Message, entry.Level)
		}

	case string(events.KindRouteStarted):
		var e events.RouteStarted
		if err := json.Unmarshal(msg.Data, &e); err == nil {
			m.addLogEntry(fmt.Sprintf("Route %d started", e.RouteID), runlog.LevelInfo)
		}

	case string(events.KindRouteCompleted):
		var e events.RouteCompleted
		if err := json.Unmarshal(msg.Data, &e); err == nil {
			if e.Success {
				m.addLogEntry(fmt.Sprintf("Route %d pass completed", e.RouteID), runlog.LevelInfo)
			} else {
				m.addLogEntry(fmt.Sprintf("Route %d halted", e.RouteID), runlog.LevelWarning)
			}
		}

	case string(events.KindEmergencyStop):
		m.addLogEntry("EMERGENCY STOP", runlog.LevelError)

	case string(events.KindEventInjected):
		var ev inject.Event
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			m.addLogEntry("Injected: "+ev.Description, runlog.LevelWarning)
		}

	case string(events.KindFaultProfile):
		var e events.FaultProfile
		if err := json.Unmarshal(msg.Data, &e); err == nil {
			cfg := e.Config
			m.faults = &cfg
		}
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m controlModel) loadRoutes() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var routes []route.Definition
		err := client.get(context.Background(), "/api/routes", &routes)
		return routesLoadedMsg{routes: routes, err: err}
	}
}

func (m controlModel) loadScenarios() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var names []string
		err := client.get(context.Background(), "/api/faults/scenarios", &names)
		return scenariosLoadedMsg{names: names, err: err}
	}
}

func (m controlModel) loadFaults() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var cfg faults.Config
		err := client.get(context.Background(), "/api/faults", &cfg)
		return faultsChangedMsg{config: cfg, err: err}
	}
}

func (m controlModel) postCommand(action, path string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return commandDoneMsg{action: action, err: client.post(context.Background(), path, nil, nil)}
	}
}

func (m controlModel) applyScenario(name string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var cfg faults.Config
		err := client.post(context.Background(), "/api/faults/scenarios/"+name, nil, &cfg)
		return faultsChangedMsg{action: "Apply fault scenario " + name, config: cfg, err: err}
	}
}

func (m controlModel) injectObstacle() tea.Cmd {
	client := m.client
	var body inject.Environment
	body.Type = inject.EnvObstacle
	if m.state != nil {
		body.Position = &runlog.Point{X: m.state.Position.X, Y: m.state.Position.Y}
	}
	return func() tea.Msg {
		return commandDoneMsg{action: "Inject obstacle", err: client.post(context.Background(), "/api/events/environment", body, nil)}
	}
}

func (m controlModel) clearFaults() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var cfg faults.Config
		err := client.delete(context.Background(), "/api/faults", &cfg)
		return faultsChangedMsg{action: "Clear faults", config: cfg, err: err}
	}
}

func (m controlModel) validateLast() tea.Cmd {
	client := m.client
	env := strings.TrimSpace(m.envInput.Value())
	return func() tea.Msg {
		var body any
		if env != "" {
			body = map[string]any{"metadata": validation.Metadata{TestEnvironment: env}}
		}
		var resp struct {
			Result    validation.Result `json:"result"`
			Certified bool              `json:"certified"`
			Complete  bool              `json:"complete"`
		}
		err := client.post(context.Background(), "/api/validation/validate-last", body, &resp)
		return validationDoneMsg{result: resp.Result, certified: resp.Certified, complete: resp.Complete, err: err}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("FURROW CONTROL"))
	s.WriteString(" ")
	connStatus := statsValueStyle.Render(m.connInfo)
	if !m.streamUp {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	helpText := "Tab: focus | Enter: start/apply | s: stop | e: e-stop | x: reset | c: clear faults | o: obstacle | v: validate | q: quit"
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n\n")

	// Left column: lists, right column: state
	routeStyle := boxStyle.Width(controlListWidth)
	if m.focusedField == focusRouteList {
		routeStyle = focusedBoxStyle.Width(controlListWidth)
	}
	scenarioStyle := boxStyle.Width(controlListWidth)
	if m.focusedField == focusScenarioList {
		scenarioStyle = focusedBoxStyle.Width(controlListWidth)
	}
	left := lipgloss.JoinVertical(lipgloss.Left,
		routeStyle.Render(m.routeList.View()),
		scenarioStyle.Render(m.scenarioList.View()),
	)

	rightWidth := max(m.width-controlListWidth-6, 30)
	right := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Width(rightWidth).Render(m.renderState(statsLabelStyle, statsValueStyle, errorStyle, headerStyle)),
		boxStyle.Width(rightWidth).Render(m.renderFaults(statsLabelStyle, statsValueStyle, warningStyle, headerStyle)),
		m.renderValidation(rightWidth, statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle, focusedBoxStyle),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(boxStyle.Width(m.width - 4).Render(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Messages:"), statsValueStyle.Render(fmt.Sprintf("%d", m.messages)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.messageRate)),
	)))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderState(statsLabelStyle, statsValueStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("ROBOT"))
	s.WriteString("\n")

	st := m.state
	if st == nil {
		s.WriteString(headerStyle.Render("No state received"))
		return s.String()
	}

	status := headerStyle.Render("idle")
	if st.IsRunning {
		status = statsValueStyle.Render("running")
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s", statsLabelStyle.Render("ID:"), statsValueStyle.Render(st.ID), statsLabelStyle.Render("Status:"), status))
	if st.CurrentRoute != nil {
		step := "-"
		if st.CurrentStep != nil {
			step = strconv.Itoa(*st.CurrentStep + 1)
		}
		s.WriteString(fmt.Sprintf("  %s %s", statsLabelStyle.Render("Route:"), statsValueStyle.Render(fmt.Sprintf("%d step %s", *st.CurrentRoute, step))))
	}
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Position:"),
		statsValueStyle.Render(fmt.Sprintf("x=%.2f y=%.2f heading=%.1f°", st.Position.X, st.Position.Y, st.Position.Heading))))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Motors:"),
		statsValueStyle.Render(fmt.Sprintf("L=%.2f R=%.2f m/s", st.Motors.LeftSpeed, st.Motors.RightSpeed))))
	s.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s",
		statsLabelStyle.Render("Battery:"), statsValueStyle.Render(fmt.Sprintf("%.1fV", st.Sensors.BatteryVoltage)),
		statsLabelStyle.Render("Temp:"), statsValueStyle.Render(fmt.Sprintf("%.1fC", st.Sensors.Temperature)),
		statsLabelStyle.Render("Source:"), statsValueStyle.Render(st.Sensors.Source)))

	if len(st.Errors) > 0 {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("Errors: " + strings.Join(st.Errors, ", ")))
	}
	return s.String()
}

func (m controlModel) renderFaults(statsLabelStyle, statsValueStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("FAULTS"))
	s.WriteString(" ")

	cfg := m.faults
	if cfg == nil || !cfg.Enabled {
		s.WriteString(headerStyle.Render("none"))
		return s.String()
	}

	s.WriteString(warningStyle.Render("active"))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		statsLabelStyle.Render("Accel bias:"), statsValueStyle.Render(formatVector(cfg.AccelerometerBias)),
		statsLabelStyle.Render("Gyro drift:"), statsValueStyle.Render(formatVector(cfg.GyroscopeDrift))))
	s.WriteString(fmt.Sprintf("%s %s  %s %s",
		statsLabelStyle.Render("Mag:"), statsValueStyle.Render(formatVector(cfg.MagnetometerInterference)),
		statsLabelStyle.Render("Noise:"), statsValueStyle.Render(fmt.Sprintf("%.2f", cfg.NoiseLevel))))

	var stuck []string
	for name, axis := range map[string]*string{
		"accel": cfg.StuckAxis.Accelerometer,
		"gyro":  cfg.StuckAxis.Gyroscope,
		"mag":   cfg.StuckAxis.Magnetometer,
	} {
		if axis != nil {
			stuck = append(stuck, name+"."+*axis)
		}
	}
	if len(stuck) > 0 {
		slices.Sort(stuck)
		s.WriteString(fmt.Sprintf("\n%s %s", statsLabelStyle.Render("Stuck:"), warningStyle.Render(strings.Join(stuck, ", "))))
	}
	return s.String()
}

func (m controlModel) renderValidation(width int, statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle, focusedBoxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("VALIDATION"))
	s.WriteString("  ")
	s.WriteString(headerStyle.Render("Environment: "))
	s.WriteString(m.envInput.View())
	s.WriteString("\n")

	if res := m.lastResult; res == nil {
		s.WriteString(headerStyle.Render("Press v to validate the last run"))
	} else {
		status := statsValueStyle.Render(string(res.Status))
		switch res.Status {
		case validation.StatusFail:
			status = errorStyle.Render(string(res.Status))
		case validation.StatusWarning:
			status = warningStyle.Render(string(res.Status))
		}
		s.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s",
			statsLabelStyle.Render("Status:"), status,
			statsLabelStyle.Render("Score:"), statsValueStyle.Render(fmt.Sprintf("%d/100", res.Score)),
			statsLabelStyle.Render("ID:"), headerStyle.Render(res.ID)))
		if cmp := res.GoldenRunComparison; cmp != nil {
			s.WriteString(fmt.Sprintf("\n%s %s", statsLabelStyle.Render("Golden similarity:"),
				statsValueStyle.Render(fmt.Sprintf("%.0f%%", cmp.Similarity))))
		}
	}

	style := boxStyle
	if m.focusedField == focusEnvironmentInput {
		style = focusedBoxStyle
	}
	return style.Width(width).Render(s.String())
}

func (m controlModel) renderEventLog(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := min(8, len(m.eventLog))
	startIdx := len(m.eventLog) - logHeight

	var content strings.Builder
	if len(m.eventLog) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i, entry := range m.eventLog[startIdx:] {
		if i > 0 {
			content.WriteString("\n")
		}
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		switch entry.level {
		case runlog.LevelError:
			content.WriteString(fmt.Sprintf("%s %s", timestamp, errorStyle.Render("✗ "+entry.message)))
		case runlog.LevelWarning:
			content.WriteString(fmt.Sprintf("%s %s", timestamp, warningStyle.Render("⚠ "+entry.message)))
		default:
			content.WriteString(fmt.Sprintf("%s %s", timestamp, statsValueStyle.Render("ℹ "+entry.message)))
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(content.String()))
	return s.String()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, level runlog.Level) {
	m.eventLog = append(m.eventLog, controlLogEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func formatVector(v imuframe.Vector3) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

func (m *controlModel) updateListSize() {
	listHeight := max((m.height-16)/2, 5)
	m.routeList.SetSize(controlListWidth-2, listHeight)
	m.scenarioList.SetSize(controlListWidth-2, listHeight)
}
