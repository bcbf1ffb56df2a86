package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lakshaymaurya-felt/monolingual/internal/core"
	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
)

// ─── Top-level view ──────────────────────────────────────────────────────────

func (m Model) renderView() string {
	if m.forced {
		return ""
	}
	w := max(m.width, 40)

	var s strings.Builder
	s.WriteString(m.renderHeader(w))
	s.WriteString("\n\n")
	if m.done {
		s.WriteString(renderSummary(m.summary, m.err))
	} else {
		s.WriteString(m.renderProgress())
		s.WriteString("\n\n")
		s.WriteString(m.renderRecent(w))
	}
	s.WriteString("\n")
	s.WriteString(m.renderFooter())
	return s.String()
}

// ─── Header ──────────────────────────────────────────────────────────────────

func (m Model) renderHeader(w int) string {
	lead := m.spinner.View()
	if m.done {
		lead = IconDiamond
	}
	title := TitleStyle().Render(lead + " " + m.title)
	if m.dryRun {
		title += lipgloss.NewStyle().Foreground(ColorWarning).Render("  (dry run)")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Width(w - 2).
		Render(title)
}

// ─── Progress ────────────────────────────────────────────────────────────────

func (m Model) renderProgress() string {
	counts := lipgloss.NewStyle().Foreground(ColorTextDim).Render(fmt.Sprintf(
		"%d / %d items   %s reclaimed   %d skipped   %d failed",
		m.reported, m.discovered, core.FormatSize(m.bytes), m.skipped, m.errored))
	return "  " + m.bar.ViewAs(m.fraction()) + "\n  " + counts
}

func (m Model) renderRecent(w int) string {
	if len(m.recent) == 0 {
		return lipgloss.NewStyle().Foreground(ColorMuted).Italic(true).Render("  Scanning…")
	}
	lines := make([]string, 0, len(m.recent))
	for _, e := range m.recent {
		icon, color := statusIcon(e.Status)
		name := core.ShortenPath(e.Path, max(w-24, 20))
		line := fmt.Sprintf("  %s %-10s %s",
			lipgloss.NewStyle().Foreground(color).Render(icon),
			core.FormatSize(e.Bytes),
			lipgloss.NewStyle().Foreground(ColorText).Render(name))
		if e.Message != "" && e.Status != progress.StatusRemoved && e.Status != progress.StatusWouldRemove {
			line += lipgloss.NewStyle().Foreground(ColorMuted).Render("  " + e.Message)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ─── Summary ─────────────────────────────────────────────────────────────────

func renderSummary(s progress.Summary, err error) string {
	if err != nil {
		return lipgloss.NewStyle().Foreground(ColorError).Render("  " + IconError + " " + err.Error())
	}
	verb := "Reclaimed"
	done := s.Removed
	if s.DryRun {
		verb = "Would reclaim"
		done = s.WouldRemove
	}
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess).Render(
			fmt.Sprintf("  %s %s %s from %d items", IconCheck, verb, core.FormatSize(s.Bytes), done)),
		lipgloss.NewStyle().Foreground(ColorTextDim).Render(
			fmt.Sprintf("  %d skipped, %d failed in %s", s.Skipped, s.Errored, s.Duration.Round(10*time.Millisecond))),
	}
	if s.Canceled {
		lines = append(lines, lipgloss.NewStyle().Foreground(ColorWarning).Render("  Canceled before all items were processed"))
	}
	return strings.Join(lines, "\n")
}

// ─── Footer ──────────────────────────────────────────────────────────────────

func (m Model) renderFooter() string {
	switch {
	case m.done:
		return ""
	case m.canceling:
		return HintBarStyle().Render("  Stopping after the current items… ctrl+c again to leave now")
	}
	return HintBarStyle().Render("  q stop")
}
