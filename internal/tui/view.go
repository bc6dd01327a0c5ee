package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/swarm/internal/workspace"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle    = lipgloss.NewStyle().Foreground(clrDim)
	activeStyle = lipgloss.NewStyle().Foreground(clrGreen).Bold(true)
	pausedStyle = lipgloss.NewStyle().Foreground(clrYellow)
	errorStyle  = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1).
			Width(44)

	cardActiveStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrGreen).
			Padding(0, 1).
			Width(44)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := "swarm"
	if m.run != nil {
		title = fmt.Sprintf("swarm  run %s  (%s, %s)", m.run.RunID, m.run.Mode, m.run.Status)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("No workspaces. Start a run with: swarm run"))
		b.WriteString("\n")
	}

	var cards []string
	for _, r := range m.rows {
		cards = append(cards, m.renderCard(r))
	}
	b.WriteString(joinCards(cards, m.width))

	b.WriteString("\n")
	b.WriteString(footerKeyStyle.Render("q") + footerDescStyle.Render(" quit  "))
	b.WriteString(footerKeyStyle.Render("r") + footerDescStyle.Render(" refresh"))

	return b.String()
}

func (m Model) renderCard(r row) string {
	var b strings.Builder

	header := fmt.Sprintf("loop-%d", r.Index)
	if r.State == workspace.StateActive {
		b.WriteString(activeStyle.Render(header) + "  " + m.spinner.View() +
			dimStyle.Render(fmt.Sprintf(" pid %d", r.PID)))
	} else {
		b.WriteString(pausedStyle.Render(header) + dimStyle.Render("  paused"))
	}
	b.WriteString("\n")

	b.WriteString(progressBar(r.Passed, r.Total, 30))
	b.WriteString(fmt.Sprintf(" %d/%d\n", r.Passed, r.Total))

	if r.LastEvent != "" {
		line := r.LastEvent
		if r.LastStory != "" {
			line = r.LastStory + ": " + line
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	if r.Snapshot != nil {
		b.WriteString(fmt.Sprintf("score %d  tests %d  cov %.0f%%",
			r.Snapshot.Score, r.Snapshot.TestFileCount, r.Snapshot.CoveragePct))
	}

	style := cardStyle
	if r.State == workspace.StateActive {
		style = cardActiveStyle
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

func progressBar(done, total, width int) string {
	if total <= 0 {
		return dimStyle.Render(strings.Repeat("░", width))
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	return activeStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", width-filled))
}

// joinCards lays the cards out in rows of two when the terminal is
// wide enough.
func joinCards(cards []string, width int) string {
	if len(cards) == 0 {
		return ""
	}
	perRow := 1
	if width >= 96 {
		perRow = 2
	}

	var rows []string
	for i := 0; i < len(cards); i += perRow {
		end := i + perRow
		if end > len(cards) {
			end = len(cards)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards[i:end]...))
	}
	return strings.Join(rows, "\n")
}
