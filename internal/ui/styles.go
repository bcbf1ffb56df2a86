// Package ui renders scrub progress: a bubbletea view for terminals and a
// line printer for everything else.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
)

// ─── Palette ─────────────────────────────────────────────────────────────────

var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#5B4FE0", Dark: "#8B80F9"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#1E8E3E", Dark: "#5FD38D"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#B06000", Dark: "#F6C453"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#C5221F", Dark: "#F28B82"}
	ColorText    = lipgloss.AdaptiveColor{Light: "#1F1F1F", Dark: "#E8E8E8"}
	ColorTextDim = lipgloss.AdaptiveColor{Light: "#5F6368", Dark: "#A8A8A8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#9AA0A6", Dark: "#6B6B6B"}
)

// ─── Icons ───────────────────────────────────────────────────────────────────

const (
	IconDiamond = "◆"
	IconCheck   = "✓"
	IconDot     = "·"
	IconSkip    = "○"
	IconError   = "✗"
)

// ─── Styles ──────────────────────────────────────────────────────────────────

// HintBarStyle styles the key binding line at the bottom of the view.
func HintBarStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorMuted)
}

// TitleStyle styles the view header.
func TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
}

// statusIcon returns the glyph and color for an event status.
func statusIcon(s progress.Status) (string, lipgloss.TerminalColor) {
	switch s {
	case progress.StatusRemoved:
		return IconCheck, ColorSuccess
	case progress.StatusWouldRemove:
		return IconDot, ColorPrimary
	case progress.StatusSkipped:
		return IconSkip, ColorWarning
	default:
		return IconError, ColorError
	}
}

// statusLabel is the word used for an event in plain output.
func statusLabel(e progress.Event) string {
	switch e.Status {
	case progress.StatusRemoved:
		switch e.Action {
		case progress.ActionThin:
			return "thinned"
		case progress.ActionTrash:
			return "trashed"
		}
		return "removed"
	case progress.StatusWouldRemove:
		if e.Action == progress.ActionThin {
			return "would thin"
		}
		return "would remove"
	case progress.StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}
