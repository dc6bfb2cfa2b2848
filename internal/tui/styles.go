package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Yellow
	ColorDanger    = lipgloss.Color("#EF4444") // Red
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorBg        = lipgloss.Color("#1F2937") // Dark background
	ColorBgLight   = lipgloss.Color("#374151") // Lighter background
	ColorText      = lipgloss.Color("#F9FAFB") // Light text
)

// Base styles
var (
	// Title style
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Background(ColorPrimary).
			Padding(0, 1)

	// Subtitle style
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)

	// Status styles
	GoodStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarnStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	BadStyle   = lipgloss.NewStyle().Foreground(ColorDanger)
	MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	// Section title style
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	// Label style for key/value lines
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(12)

	// Help style
	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)

	// Help key style
	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)
)

// Metric colors used by sparklines and graphs
var MetricColors = map[storage.Kind]lipgloss.Color{
	storage.KindPing:     ColorWarning,
	storage.KindDownload: ColorSecondary,
	storage.KindUpload:   ColorPrimary,
}

// LevelStyle returns the style for a per-metric indicator level
func LevelStyle(level quality.Level) lipgloss.Style {
	switch level {
	case quality.LevelExcellent:
		return GoodStyle
	case quality.LevelGood:
		return WarnStyle
	default:
		return BadStyle
	}
}

// RatingStyle returns the style for an overall connection rating
func RatingStyle(rating quality.Rating) lipgloss.Style {
	switch rating {
	case quality.Excellent:
		return GoodStyle.Bold(true)
	case quality.Good:
		return WarnStyle.Bold(true)
	default:
		return BadStyle.Bold(true)
	}
}

// BucketRatingStyle returns the style for a minute bucket verdict
func BucketRatingStyle(rating stability.Rating) lipgloss.Style {
	if rating == stability.Stable {
		return GoodStyle
	}
	return BadStyle
}

// PhaseStyle returns the badge style for a session phase
func PhaseStyle(phase session.Phase) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(ColorBg)
	switch {
	case phase == session.PhaseComplete:
		return base.Background(ColorSuccess)
	case phase == session.PhaseError:
		return base.Background(ColorDanger)
	case phase == session.PhaseStopped:
		return base.Background(ColorWarning)
	case phase.Running():
		return base.Background(ColorSecondary)
	default:
		return base.Background(ColorMuted)
	}
}

// FormatValue formats a metric value with its unit and indicator color
func FormatValue(kind storage.Kind, v float64) string {
	return LevelStyle(quality.Indicator(kind, v)).Render(formatValue(kind, v))
}

// FormatOptional formats a possibly missing value, "--" when absent
func FormatOptional(kind storage.Kind, v *float64) string {
	if v == nil {
		return MutedStyle.Render("--")
	}
	return FormatValue(kind, *v)
}

// formatValue formats a value with the unit of its kind
func formatValue(kind storage.Kind, v float64) string {
	if kind == storage.KindPing {
		if v < 10 {
			return fmt.Sprintf("%.1fms", v)
		}
		return fmt.Sprintf("%.0fms", v)
	}
	if v >= 1000 {
		return fmt.Sprintf("%.2fG", v/1000)
	}
	return fmt.Sprintf("%.1fM", v)
}

// formatDuration formats a duration as m:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
