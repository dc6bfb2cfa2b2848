package components

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// GraphPoint represents a single data point for graphing
type GraphPoint struct {
	Timestamp time.Time
	Value     float64 // NaN leaves a gap
}

// GraphConfig configures graph rendering
type GraphConfig struct {
	Width      int     // Total width including Y-axis labels
	Height     int     // Graph area height (excluding X-axis)
	ShowYAxis  bool    // Show Y-axis with labels
	ShowXAxis  bool    // Show X-axis with time labels
	MinY       float64 // Minimum Y value (auto if both 0)
	MaxY       float64 // Maximum Y value (auto if both 0)
	YAxisWidth int     // Width of Y-axis label area
	Unit       string  // Appended to Y-axis labels, e.g. "ms" or "M"
	Color      lipgloss.Color
}

// DefaultGraphConfig returns sensible defaults
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Width:      60,
		Height:     8,
		ShowYAxis:  true,
		ShowXAxis:  true,
		YAxisWidth: 8,
		Color:      lipgloss.Color("#06B6D4"),
	}
}

var graphAxisStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

// Graph renders a line graph spanning the time range of its points
func Graph(points []GraphPoint, config GraphConfig) string {
	if len(points) == 0 {
		return renderEmptyGraph(config)
	}

	from := points[0].Timestamp
	to := points[len(points)-1].Timestamp
	if to.Before(from) {
		from, to = to, from
	}

	return GraphWithRange(points, from, to, config)
}

// GraphWithRange renders with explicit time range
func GraphWithRange(points []GraphPoint, from, to time.Time, config GraphConfig) string {
	if len(points) == 0 {
		return renderEmptyGraph(config)
	}

	graphWidth := config.Width
	if config.ShowYAxis {
		graphWidth -= config.YAxisWidth
	}
	if graphWidth < 10 {
		graphWidth = 10
	}

	minY, maxY, ticks := calculateYRange(points, config.MinY, config.MaxY, config.Height)

	// 2x vertical resolution using half-blocks
	canvasHeight := config.Height * 2
	canvas := make([][]rune, config.Height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", graphWidth))
	}

	timeRange := to.Sub(from)
	if timeRange == 0 {
		timeRange = time.Second
	}

	prevX, prevY := -1, -1
	for _, point := range points {
		x := int(float64(point.Timestamp.Sub(from)) / float64(timeRange) * float64(graphWidth-1))
		x = clamp(x, 0, graphWidth-1)

		if math.IsNaN(point.Value) {
			prevX, prevY = -1, -1
			continue
		}

		// 0 = top, canvasHeight-1 = bottom
		yRatio := math.Max(0, math.Min(1, (point.Value-minY)/(maxY-minY)))
		y := canvasHeight - 1 - int(yRatio*float64(canvasHeight-1))

		if prevX >= 0 {
			drawLine(canvas, prevX, prevY, x, y)
		} else {
			drawPoint(canvas, x, y)
		}
		prevX, prevY = x, y
	}

	lineStyle := lipgloss.NewStyle().Foreground(config.Color)

	var result strings.Builder
	for row := 0; row < config.Height; row++ {
		if config.ShowYAxis {
			result.WriteString(graphAxisStyle.Render(formatYLabel(ticks, row, config.Height, config.YAxisWidth, config.Unit)))
		}
		for _, ch := range canvas[row] {
			if ch == ' ' {
				result.WriteRune(' ')
			} else {
				result.WriteString(lineStyle.Render(string(ch)))
			}
		}
		result.WriteString("\n")
	}

	if config.ShowXAxis {
		result.WriteString(renderXAxis(from, to, graphWidth, config.YAxisWidth, config.ShowYAxis))
	}

	return result.String()
}

// calculateYRange determines min/max Y with nice tick marks
func calculateYRange(points []GraphPoint, forcedMin, forcedMax float64, numTicks int) (min, max float64, ticks []float64) {
	dataMax := -math.MaxFloat64
	hasData := false
	for _, p := range points {
		if !math.IsNaN(p.Value) {
			dataMax = math.Max(dataMax, p.Value)
			hasData = true
		}
	}

	if !hasData {
		return 0, 100, []float64{0, 50, 100}
	}

	if forcedMin != 0 || forcedMax != 0 {
		min, max = forcedMin, forcedMax
	} else {
		// Speeds and latencies are non-negative, always start from 0
		padding := math.Max(dataMax*0.1, 1)
		min = 0
		max = dataMax + padding
	}

	if numTicks < 2 {
		numTicks = 2
	}
	tickSpacing := niceNum((max-min)/float64(numTicks-1), true)
	min = math.Max(0, math.Floor(min/tickSpacing)*tickSpacing)
	max = math.Ceil(max/tickSpacing) * tickSpacing

	ticks = make([]float64, 0, numTicks+1)
	for tick := min; tick <= max+tickSpacing*0.5; tick += tickSpacing {
		ticks = append(ticks, tick)
	}

	return min, max, ticks
}

// niceNum finds a "nice" number approximately equal to x
func niceNum(x float64, round bool) float64 {
	if x <= 0 {
		return 1
	}
	exp := math.Floor(math.Log10(x))
	f := x / math.Pow(10, exp)
	var nf float64
	if round {
		switch {
		case f < 1.5:
			nf = 1
		case f < 3:
			nf = 2
		case f < 7:
			nf = 5
		default:
			nf = 10
		}
	} else {
		switch {
		case f <= 1:
			nf = 1
		case f <= 2:
			nf = 2
		case f <= 5:
			nf = 5
		default:
			nf = 10
		}
	}
	return nf * math.Pow(10, exp)
}

// drawPoint sets the upper or lower half of a cell
func drawPoint(canvas [][]rune, x, y int) {
	row := y / 2
	if row < 0 || row >= len(canvas) || x < 0 || x >= len(canvas[0]) {
		return
	}

	existing := canvas[row][x]
	if y%2 == 0 {
		if existing == '▄' || existing == '█' {
			canvas[row][x] = '█'
		} else {
			canvas[row][x] = '▀'
		}
	} else {
		if existing == '▀' || existing == '█' {
			canvas[row][x] = '█'
		} else {
			canvas[row][x] = '▄'
		}
	}
}

// drawLine connects two points using Bresenham's algorithm
func drawLine(canvas [][]rune, x1, y1, x2, y2 int) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		drawPoint(canvas, x1, y1)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// formatYLabel formats the Y-axis label for a given row
func formatYLabel(ticks []float64, row, height, width int, unit string) string {
	if len(ticks) == 0 {
		return strings.Repeat(" ", width)
	}

	// Row 0 is the top tick
	maxTick := ticks[len(ticks)-1]
	minTick := ticks[0]

	for _, tick := range ticks {
		tickRow := int((maxTick - tick) / (maxTick - minTick) * float64(height-1))
		if tickRow == row {
			label := FormatShort(tick, unit)
			pad := width - lipgloss.Width(label) - 1
			if pad < 0 {
				pad = 0
			}
			return strings.Repeat(" ", pad) + label + "┤"
		}
	}

	return strings.Repeat(" ", width-1) + "│"
}

// FormatShort formats a value for axis labels
func FormatShort(v float64, unit string) string {
	switch {
	case v >= 1000:
		return fmt.Sprintf("%.1fk%s", v/1000, unit)
	case v >= 10 || v == 0:
		return fmt.Sprintf("%.0f%s", v, unit)
	default:
		return fmt.Sprintf("%.1f%s", v, unit)
	}
}

// renderXAxis renders the X-axis with time labels
func renderXAxis(from, to time.Time, width, yAxisWidth int, showYAxis bool) string {
	var result strings.Builder

	if showYAxis {
		result.WriteString(strings.Repeat(" ", yAxisWidth-1))
		result.WriteString("└")
	}
	result.WriteString(strings.Repeat("─", width))
	result.WriteString("\n")

	if showYAxis {
		result.WriteString(strings.Repeat(" ", yAxisWidth))
	}

	fromLabel := from.Format("15:04:05")
	toLabel := to.Format("15:04:05")

	padding := width - len(fromLabel) - len(toLabel)
	if padding < 1 {
		padding = 1
	}

	result.WriteString(graphAxisStyle.Render(fromLabel))
	result.WriteString(strings.Repeat(" ", padding))
	result.WriteString(graphAxisStyle.Render(toLabel))

	return result.String()
}

// renderEmptyGraph renders an empty graph placeholder
func renderEmptyGraph(config GraphConfig) string {
	var result strings.Builder

	graphWidth := config.Width
	if config.ShowYAxis {
		graphWidth -= config.YAxisWidth
	}

	for row := 0; row < config.Height; row++ {
		if config.ShowYAxis {
			result.WriteString(strings.Repeat(" ", config.YAxisWidth-1))
			if row == config.Height-1 {
				result.WriteString("└")
			} else {
				result.WriteString("│")
			}
		}
		if row == config.Height/2 {
			msg := "No data"
			padding := (graphWidth - len(msg)) / 2
			result.WriteString(strings.Repeat(" ", padding))
			result.WriteString(graphAxisStyle.Render(msg))
			result.WriteString(strings.Repeat(" ", graphWidth-padding-len(msg)))
		} else {
			result.WriteString(strings.Repeat(" ", graphWidth))
		}
		result.WriteString("\n")
	}

	if config.ShowXAxis {
		if config.ShowYAxis {
			result.WriteString(strings.Repeat(" ", config.YAxisWidth-1))
			result.WriteString("└")
		}
		result.WriteString(strings.Repeat("─", graphWidth))
	}

	return result.String()
}
