package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/petems/loudkeep/internal/audio"
)

const meterWidth = 40

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A40000"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	keepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00"))
	dropStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A40000")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#A40000")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Italic(true)
)

// renderMainView renders the recorder screen
func renderMainView(m Model) string {
	var b strings.Builder

	b.WriteString(renderHeader(m))
	b.WriteString("\n\n")
	b.WriteString(panelStyle.Render(renderLevels(m)))
	b.WriteString("\n\n")
	b.WriteString(renderCounters(m))
	b.WriteString("\n")
	if m.Err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.Err.Error()))
		b.WriteString("\n")
	} else if m.Snapshot.Error != "" {
		b.WriteString(errorStyle.Render(m.Snapshot.Error))
		b.WriteString("\n")
	} else if m.Message != "" {
		b.WriteString(dimStyle.Render(m.Message))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space start/stop · ↑/↓ threshold · d device · r refresh · q quit"))
	return b.String()
}

func renderHeader(m Model) string {
	state := "○ Idle"
	if m.Snapshot.Recording {
		state = errorStyle.Render("● REC")
	}
	title := titleStyle.Render("loudkeep") + "  " + state

	format := m.Snapshot.Format
	if format == "" || !m.Snapshot.Recording {
		format = m.Format.String()
	}
	subtitle := dimStyle.Render(fmt.Sprintf("%s · %s · %.0fs segments", m.Device.DisplayName(), format, m.Format.SegmentSeconds))
	return title + "\n" + subtitle
}

func renderLevels(m Model) string {
	s := m.Snapshot
	var b strings.Builder

	fmt.Fprintf(&b, "Level  %s %6.1f dB\n", renderMeter(s.LevelDB, s.Threshold, meterWidth), s.LevelDB)
	fmt.Fprintf(&b, "Peak   %s %6.1f dB\n", renderMeter(s.PeakDB, s.Threshold, meterWidth), s.PeakDB)
	fmt.Fprintf(&b, "Limit  %s %6.1f dB\n", renderThresholdMarker(s.Threshold, meterWidth), s.Threshold)

	progress := 0.0
	if s.Total > 0 {
		progress = float64(s.Elapsed) / float64(s.Total)
	}
	fmt.Fprintf(&b, "Time   %s %s\n", renderProgressBar(progress, meterWidth), s.Progress())

	preview := s.Preview
	switch {
	case strings.HasPrefix(preview, "Will keep"):
		preview = keepStyle.Render(preview)
	case preview != "":
		preview = dropStyle.Render(preview)
	}
	b.WriteString(statusStyle.Render(s.Status))
	if preview != "" {
		b.WriteString("  " + preview)
	}
	return b.String()
}

func renderCounters(m Model) string {
	line := fmt.Sprintf("%s %d saved   %s %d discarded",
		keepStyle.Render("✓"), m.Snapshot.Saved, dropStyle.Render("✗"), m.Snapshot.Discarded)
	if m.Snapshot.LastFile != "" {
		line += dimStyle.Render("   last: " + filepath.Base(m.Snapshot.LastFile))
	}
	return line
}

// renderMeter draws the level on the -60..0 dB scale, coloured by whether it
// reaches the threshold.
func renderMeter(db, threshold float64, width int) string {
	filled := int(audio.MeterPercent(db) / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if db >= threshold {
		return keepStyle.Render(bar)
	}
	return dropStyle.Render(bar)
}

func renderThresholdMarker(threshold float64, width int) string {
	pos := min(int(audio.MeterPercent(threshold)/100*float64(width)), width-1)
	return strings.Repeat(" ", pos) + "▲" + strings.Repeat(" ", width-pos-1)
}

func renderProgressBar(progress float64, width int) string {
	filled := min(max(int(progress*float64(width)), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderGoodbye(m Model) string {
	return fmt.Sprintf("%d saved, %d discarded. Bye.\n", m.Snapshot.Saved, m.Snapshot.Discarded)
}
