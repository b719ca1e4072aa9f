// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/furrow/internal/bridge"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	level     runlog.Level
}

// Monitor TUI model
type monitorModel struct {
	link          *bridge.Bridge
	connInfo      string
	scenario      string
	status        bridge.Status
	stats         imuframe.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type diagnosticMsg runlog.Entry

func initialMonitorModel(link *bridge.Bridge, connInfo, scenario string) monitorModel {
	return monitorModel{
		link:          link,
		connInfo:      connInfo,
		scenario:      scenario,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.link.ResetStatistics()
			m.addLogEntry("Statistics reset", runlog.LevelInfo)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.status = m.link.Status()
		m.stats = m.link.Statistics()
		m.stats.CalculateRates()
		return m, tickCmd()

	case diagnosticMsg:
		m.addLogEntry(msg.Message, msg.Level)
	}

	return m, nil
}

func (m *monitorModel) addLogEntry(message string, level runlog.Level) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	var s strings.Builder
	s.WriteString(titleStyle.Render("FURROW - FRAME MONITOR"))
	s.WriteString("\n")
	faultInfo := "none"
	if m.scenario != "" {
		faultInfo = m.scenario
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Faults: %s | 'r' reset stats, 'q' quit", m.connInfo, faultInfo)))
	s.WriteString("\n\n")

	if !m.status.Connected {
		s.WriteString(warningStyle.Render("⏳ Waiting for connection..."))
	} else if m.status.ValidFrames == 0 {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.stats.DiscardedBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (%d bytes discarded while resyncing)", m.stats.DiscardedBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Errors(), errorPercent)),
	))

	if m.stats.CRCErrors > 0 || m.stats.MarkerErrors > 0 || m.stats.Overflows > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
			statsLabelStyle.Render("Resyncs:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MarkerErrors)),
			statsLabelStyle.Render("Overflows:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Overflows)),
		))
	}

	if m.stats.SequenceGaps > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s %s\n",
			statsLabelStyle.Render("Sequence Gaps:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.SequenceGaps)),
			headerStyle.Render(fmt.Sprintf("(%d frames missed)", m.stats.MissedFrames)),
		))
	}

	if m.stats.AnomalousValues > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousValues)),
			headerStyle.Render("AHRS range"), m.stats.AttitudeRange,
			headerStyle.Render("zero accel"), m.stats.ZeroAccel,
			headerStyle.Render("length"), m.stats.LengthMismatches,
		))
	}

	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	if m.stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest snapshot
	if snap := m.status.LastSnapshot; snap != nil {
		label := "Latest Snapshot:"
		if snap.Faulted {
			label = "Latest Snapshot (faults applied):"
		}
		s.WriteString(statsLabelStyle.Render(label))
		s.WriteString("\n")

		snapContent := strings.Builder{}
		snapContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Accel:"),
			statsValueStyle.Render(fmt.Sprintf("x=%.3f y=%.3f z=%.3f g", snap.Accel.X, snap.Accel.Y, snap.Accel.Z))))
		snapContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Gyro: "),
			statsValueStyle.Render(fmt.Sprintf("x=%.3f y=%.3f z=%.3f rad/s", snap.Gyro.X, snap.Gyro.Y, snap.Gyro.Z))))
		snapContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Mag:  "),
			statsValueStyle.Render(fmt.Sprintf("x=%.3f y=%.3f z=%.3f gauss", snap.Mag.X, snap.Mag.Y, snap.Mag.Z))))
		snapContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("AHRS: "),
			statsValueStyle.Render(fmt.Sprintf("roll=%.1f° pitch=%.1f° yaw=%.1f°", snap.AHRS.Roll, snap.AHRS.Pitch, snap.AHRS.Yaw))))
		snapContent.WriteString(fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render("Magnet bar:"),
			statsValueStyle.Render(imuframe.FormatMagnetBar(snap.MagnetBar)),
			headerStyle.Render(fmt.Sprintf("seq %d", snap.Sequence))))

		s.WriteString(boxStyle.Render(snapContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := max(m.height-22, 5)
	startIdx := max(len(m.eventLog)-logHeight, 0)

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := headerStyle.Render(entry.timestamp.Format("01/02/06 15:04:05.000"))
			switch entry.level {
			case runlog.LevelError:
				logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
			case runlog.LevelWarning:
				logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("⚠ "+entry.message)))
			default:
				logContent.WriteString(fmt.Sprintf("%s %s\n", timestamp, statsValueStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
