// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/regolith/pkg/packet"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	statusStaleAfter = 2 * time.Second // Vehicle status older than this is flagged
	maxLogEntries    = 100
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// errorLogEntry is one line of the event log
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// driveKeyMap is the keyboard layout of the drive TUI
type driveKeyMap struct {
	Forward  key.Binding
	Backward key.Binding
	Left     key.Binding
	Right    key.Binding
	Stop     key.Binding
	Act1Ext  key.Binding
	Act1Ret  key.Binding
	Act2Ext  key.Binding
	Act2Ret  key.Binding
	EStop    key.Binding
	Cancel   key.Binding
	Macro    key.Binding
	ShutDown key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k driveKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Backward, k.Left, k.Right, k.Stop, k.EStop, k.Help, k.Quit}
}

func (k driveKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Forward, k.Backward, k.Left, k.Right, k.Stop},
		{k.Act1Ext, k.Act1Ret, k.Act2Ext, k.Act2Ret},
		{k.EStop, k.Cancel, k.Macro},
		{k.ShutDown, k.Help, k.Quit},
	}
}

var driveKeys = driveKeyMap{
	Forward:  key.NewBinding(key.WithKeys("w", "up"), key.WithHelp("w/↑", "faster forward")),
	Backward: key.NewBinding(key.WithKeys("s", "down"), key.WithHelp("s/↓", "faster reverse")),
	Left:     key.NewBinding(key.WithKeys("a", "left"), key.WithHelp("a/←", "turn left")),
	Right:    key.NewBinding(key.WithKeys("d", "right"), key.WithHelp("d/→", "turn right")),
	Stop:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "stop all")),
	Act1Ext:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "act1 extend")),
	Act1Ret:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "act1 retract")),
	Act2Ext:  key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "act2 extend")),
	Act2Ret:  key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "act2 retract")),
	EStop:    key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "ESTOP")),
	Cancel:   key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "cancel macro")),
	Macro:    key.NewBinding(key.WithKeys("2", "3", "4", "5", "6", "7"), key.WithHelp("2-7", "run macro")),
	ShutDown: key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "stop listening")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// driveModel is the Bubble Tea model for the drive TUI
type driveModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string
	opts     packet.Options

	// Commanded state
	cmd        packet.MotionCommand
	sent       uint64
	sendErrors uint64

	// Vehicle state
	status     packet.Status
	hasStatus  bool
	lastStatus time.Time
	lastMacro  int

	// Event log
	errorLog []errorLogEntry

	// UI state
	keys           driveKeyMap
	help           help.Model
	started        time.Time
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type driveTickMsg time.Time

type statusMsg struct {
	status   packet.Status
	received time.Time
}

type statusErrorMsg struct {
	err error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialDriveModel(connMgr *connectionManager, connInfo string, opts packet.Options) driveModel {
	return driveModel{
		connMgr:   connMgr,
		connInfo:  connInfo,
		opts:      opts,
		keys:      driveKeys,
		help:      help.New(),
		started:   time.Now(),
		lastMacro: packet.NoMacro,
		width:     80,
		height:    24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m driveModel) Init() tea.Cmd {
	return driveTickCmd()
}

func driveTickCmd() tea.Cmd {
	return tea.Tick(driveRate, func(t time.Time) tea.Msg {
		return driveTickMsg(t)
	})
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case driveTickMsg:
		// Heartbeat: the vehicle only keeps moving while commands flow
		if !m.connectionLost {
			m.sendMotion()
		}
		return m, driveTickCmd()

	case statusMsg:
		m.processStatus(msg)

	case statusErrorMsg:
		m.addLogEntry(fmt.Sprintf("Bad status frame: %v", msg.err), true)

	case connectionLostMsg:
		m.connectionLost = true
		m.hasStatus = false
		m.addLogEntry("Connection lost - vehicle stopped, reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		// Resume from a stopped vehicle
		m.cmd = packet.MotionCommand{}
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m *driveModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	step := driveStep
	switch {
	case key.Matches(msg, m.keys.Forward):
		m.adjustDrive(step, step)
	case key.Matches(msg, m.keys.Backward):
		m.adjustDrive(-step, -step)
	case key.Matches(msg, m.keys.Left):
		m.adjustDrive(-step, step)
	case key.Matches(msg, m.keys.Right):
		m.adjustDrive(step, -step)
	case key.Matches(msg, m.keys.Stop):
		m.cmd = packet.MotionCommand{}
		m.addLogEntry("Stop", false)
	case key.Matches(msg, m.keys.Act1Ext):
		m.toggleActuator(0, packet.MotionExtending)
	case key.Matches(msg, m.keys.Act1Ret):
		m.toggleActuator(0, packet.MotionRetracting)
	case key.Matches(msg, m.keys.Act2Ext):
		m.toggleActuator(1, packet.MotionExtending)
	case key.Matches(msg, m.keys.Act2Ret):
		m.toggleActuator(1, packet.MotionRetracting)
	case key.Matches(msg, m.keys.EStop):
		m.cmd = packet.MotionCommand{}
		m.sendMacro(packet.MacroEStop)
	case key.Matches(msg, m.keys.Cancel):
		m.sendMacro(packet.MacroCancel)
	case key.Matches(msg, m.keys.Macro):
		code, err := packet.ParseMacroCode(msg.String())
		if err == nil {
			m.sendMacro(code)
		}
		return m, nil
	case key.Matches(msg, m.keys.ShutDown):
		m.sendStopListening()
		return m, nil
	default:
		return m, nil
	}

	m.sendMotion()
	return m, nil
}

func (m driveModel) View() string {
	if m.quitting {
		return "Stopping vehicle...\n"
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

	// Header
	s.WriteString(titleStyle.Render("REGOLITH DRIVE"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | session %s", connStatus,
		formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	s.WriteString("\n\n")

	// Layout: left panel (commanded) | right panel (vehicle)
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}
	commanded := boxStyle.Width(leftWidth).Render(m.renderCommanded(statsLabelStyle, statsValueStyle, errorStyle))
	vehicle := boxStyle.Width(rightWidth).Render(m.renderVehicle(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, commanded, " ", vehicle))
	s.WriteString("\n\n")

	// Link statistics
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.help.View(m.keys))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m driveModel) renderCommanded(statsLabelStyle, statsValueStyle, errorStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("COMMANDED"))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Left: "), statsValueStyle.Render(fmt.Sprintf("%+4d%%", m.cmd.LeftPercent))))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Right:"), statsValueStyle.Render(fmt.Sprintf("%+4d%%", m.cmd.RightPercent))))
	for i, a := range m.cmd.Actuators {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(fmt.Sprintf("Act%d: ", i+1)), statsValueStyle.Render(a.String())))
	}
	sent := statsValueStyle.Render(fmt.Sprintf("%d", m.sent))
	errs := statsValueStyle.Render("0")
	if m.sendErrors > 0 {
		errs = errorStyle.Render(fmt.Sprintf("%d", m.sendErrors))
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s", statsLabelStyle.Render("Sent:"), sent, statsLabelStyle.Render("Errors:"), errs))
	return s.String()
}

func (m driveModel) renderVehicle(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("VEHICLE"))
	if m.status.Simulated && m.hasStatus {
		s.WriteString(" ")
		s.WriteString(warningStyle.Render("SIMULATED"))
	}
	s.WriteString("\n")

	if !m.hasStatus {
		s.WriteString(headerStyle.Render("No status received"))
		return s.String()
	}
	if age := time.Since(m.lastStatus); age > statusStaleAfter {
		s.WriteString(warningStyle.Render(fmt.Sprintf("Status stale (%s)", age.Truncate(time.Second))))
		s.WriteString("\n")
	}

	st := m.status
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Drive:"),
		statsValueStyle.Render(fmt.Sprintf("%+d%% / %+d%%", st.LeftPercent, st.RightPercent))))
	for _, a := range st.Actuators {
		line := statsValueStyle.Render(a.Motion.String())
		if !a.CanExtend {
			line += " " + warningStyle.Render("[extend limit]")
		}
		if !a.CanRetract {
			line += " " + warningStyle.Render("[retract limit]")
		}
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(a.Name+":"), line))
	}

	locks := statsValueStyle.Render("none")
	if st.DriveLocked || st.ActuatorsLocked {
		var held []string
		if st.DriveLocked {
			held = append(held, "drive")
		}
		if st.ActuatorsLocked {
			held = append(held, "actuators")
		}
		locks = errorStyle.Render(strings.Join(held, ", "))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Locks:"), locks))

	macroText := statsValueStyle.Render("idle")
	if code, ok := st.RunningMacro(); ok {
		macroText = warningStyle.Render(code.String())
	}
	s.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Macro:"), macroText))

	if st.HasAux {
		s.WriteString(fmt.Sprintf("\n%s %s", statsLabelStyle.Render("Aux:"),
			statsValueStyle.Render(fmt.Sprintf("%.2f / %.2f", st.Aux[0], st.Aux[1]))))
	}
	return s.String()
}

func (m driveModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	if !m.hasStatus {
		return boxStyle.Width(m.width - 4).Render(statsLabelStyle.Render("LINK") + " | waiting for vehicle")
	}
	c := m.status.Counters
	invalid := statsValueStyle.Render("0")
	if c.InvalidPackets > 0 {
		invalid = errorStyle.Render(fmt.Sprintf("%d", c.InvalidPackets))
	}
	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Rx:"), statsValueStyle.Render(fmt.Sprintf("%d", c.TotalPackets)),
		statsLabelStyle.Render("Invalid:"), invalid,
		statsLabelStyle.Render("Refused:"), statsValueStyle.Render(fmt.Sprintf("%d", c.Refused)),
		statsLabelStyle.Render("Macros:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", c.MacrosAccepted, c.MacrosAccepted+c.MacrosRejected)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkt/s", c.PacketRate)),
		statsLabelStyle.Render("Up:"), statsValueStyle.Render(formatUptime(uint64(c.Uptime.Milliseconds()))),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m driveModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *driveModel) adjustDrive(left, right int) {
	m.cmd.LeftPercent = clampDrive(m.cmd.LeftPercent + left)
	m.cmd.RightPercent = clampDrive(m.cmd.RightPercent + right)
}

func clampDrive(p int) int {
	if p > packet.MaxDrivePct {
		return packet.MaxDrivePct
	}
	if p < -packet.MaxDrivePct {
		return -packet.MaxDrivePct
	}
	return p
}

// toggleActuator starts the motion, or stops the actuator if it already moves that way
func (m *driveModel) toggleActuator(i int, motion packet.Motion) {
	if m.cmd.Actuators[i] == motion {
		m.cmd.Actuators[i] = packet.MotionNone
	} else {
		m.cmd.Actuators[i] = motion
	}
	m.addLogEntry(fmt.Sprintf("Actuator %d %s", i+1, m.cmd.Actuators[i]), false)
}

func (m *driveModel) sendMotion() {
	payload, err := packet.EncodeMotion(m.cmd, m.opts)
	if err != nil {
		m.sendErrors++
		m.addLogEntry(fmt.Sprintf("Encode failed: %v", err), true)
		return
	}
	if err := m.connMgr.send(payload); err != nil {
		m.sendErrors++
		return
	}
	m.sent++
}

// sendMacro sends a press followed by a release, like a tapped button
func (m *driveModel) sendMacro(code packet.MacroCode) {
	for _, pressed := range []bool{true, false} {
		payload, err := packet.EncodeMacro(packet.MacroCommand{Code: code, Pressed: pressed})
		if err != nil {
			m.sendErrors++
			m.addLogEntry(fmt.Sprintf("Encode failed: %v", err), true)
			return
		}
		if err := m.connMgr.send(payload); err != nil {
			m.sendErrors++
			m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", code, err), true)
			return
		}
		m.sent++
	}
	m.addLogEntry(fmt.Sprintf("Sent %s", code), code == packet.MacroEStop)
}

func (m *driveModel) sendStopListening() {
	conn := m.connMgr.getConn()
	if conn == nil {
		return
	}
	if err := conn.WriteText(packet.StopListening); err != nil {
		m.sendErrors++
		m.addLogEntry(fmt.Sprintf("Failed to send stop-listening: %v", err), true)
		return
	}
	m.sent++
	m.addLogEntry("Sent stop-listening: the vehicle will close the link", true)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *driveModel) processStatus(msg statusMsg) {
	prev := m.status
	hadStatus := m.hasStatus
	m.status = msg.status
	m.hasStatus = true
	m.lastStatus = msg.received

	if m.status.Macro != m.lastMacro {
		if code, ok := m.status.RunningMacro(); ok {
			m.addLogEntry(fmt.Sprintf("Macro %s running", code), false)
		} else if prevCode, ok := prev.RunningMacro(); ok && hadStatus {
			m.addLogEntry(fmt.Sprintf("Macro %s finished", prevCode), false)
		}
		m.lastMacro = m.status.Macro
	}

	if hadStatus && m.status.Counters.FailSafeStops > prev.Counters.FailSafeStops {
		m.addLogEntry("Vehicle rejected a payload and stopped", true)
	}
	if hadStatus && m.status.Counters.MacrosRejected > prev.Counters.MacrosRejected {
		m.addLogEntry("Vehicle rejected a macro request", true)
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *driveModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := months / 12

	seconds %= 60
	minutes %= 60
	hours %= 24
	days %= 30
	months %= 12

	parts := []string{}
	if years > 0 {
		if years == 1 {
			parts = append(parts, "1 year")
		} else {
			parts = append(parts, fmt.Sprintf("%d years", years))
		}
	}
	if months > 0 {
		if months == 1 {
			parts = append(parts, "1 month")
		} else {
			parts = append(parts, fmt.Sprintf("%d months", months))
		}
	}
	if days > 0 {
		if days == 1 {
			parts = append(parts, "1 day")
		} else {
			parts = append(parts, fmt.Sprintf("%d days", days))
		}
	}
	if hours > 0 {
		if hours == 1 {
			parts = append(parts, "1 hour")
		} else {
			parts = append(parts, fmt.Sprintf("%d hours", hours))
		}
	}
	if minutes > 0 {
		if minutes == 1 {
			parts = append(parts, "1 minute")
		} else {
			parts = append(parts, fmt.Sprintf("%d minutes", minutes))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
