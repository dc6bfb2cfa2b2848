package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters from lowest to highest
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the newest width values scaled between their own min and max
func Sparkline(values []float64, width int, color lipgloss.Color) string {
	if len(values) == 0 {
		return strings.Repeat(" ", width)
	}
	values = lastN(values, width)

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return render(values, width, min, max, color)
}

// SparklineWithRange renders the newest width values against a fixed min/max range
func SparklineWithRange(values []float64, width int, min, max float64, color lipgloss.Color) string {
	if len(values) == 0 {
		return strings.Repeat(" ", width)
	}
	return render(lastN(values, width), width, min, max, color)
}

func lastN(values []float64, n int) []float64 {
	if n > 0 && len(values) > n {
		return values[len(values)-n:]
	}
	return values
}

func render(values []float64, width int, min, max float64, color lipgloss.Color) string {
	// Ensure we have a range to scale
	if max <= min {
		max = min + 1
	}

	style := lipgloss.NewStyle().Foreground(color)

	var result strings.Builder
	for _, v := range values {
		scaled := (v - min) / (max - min)
		if scaled > 1 {
			scaled = 1
		}
		if scaled < 0 {
			scaled = 0
		}
		result.WriteString(style.Render(string(sparkBlocks[int(scaled*7)])))
	}

	if padding := width - len(values); padding > 0 {
		result.WriteString(strings.Repeat(" ", padding))
	}

	return result.String()
}
