package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stats"
	"github.com/wellsgz/speedpulse/internal/storage"
	"github.com/wellsgz/speedpulse/internal/tui/components"
)

// maxBucketRows limits the minute bucket table to the newest rows
const maxBucketRows = 6

// View renders the dashboard
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
	}

	if errText := m.errorText(); errText != "" {
		sections = append(sections, m.renderError(errText))
	}

	sections = append(sections, m.renderTable())

	if m.snap.FinalResult != nil {
		sections = append(sections, m.renderResult())
	}

	if m.snap.Mode == session.ModeContinuous {
		sections = append(sections, m.renderContinuous())
	}

	sections = append(sections, m.renderHelp())

	return strings.Join(sections, "\n\n")
}

// errorText returns the session error or the last command error
func (m Model) errorText() string {
	if m.err != nil {
		return m.err.Error()
	}
	return m.snap.Error
}

// renderError renders an error message
func (m Model) renderError(text string) string {
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	return lipgloss.NewStyle().
		Foreground(ColorDanger).
		Background(lipgloss.Color("#3F1F1F")).
		Padding(0, 1).
		Width(width).
		Render("Error: " + text)
}

// renderHeader renders the application header
func (m Model) renderHeader() string {
	title := TitleStyle.Render(" speedpulse ")
	subtitle := SubtitleStyle.Render("Internet Speed Monitor")
	sourceInfo := MutedStyle.Render(m.source)

	left := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", subtitle)

	spacing := m.width - lipgloss.Width(left) - lipgloss.Width(sourceInfo) - 2
	if spacing < 1 {
		spacing = 1
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Center,
		left,
		strings.Repeat(" ", spacing),
		sourceInfo,
	)
}

// renderStatus renders the phase badge, timing and server lines
func (m Model) renderStatus() string {
	snap := m.snap
	var b strings.Builder

	b.WriteString(PhaseStyle(snap.Phase).Render(strings.ToUpper(string(snap.Phase))))
	if snap.Mode != "" {
		b.WriteString("  ")
		b.WriteString(string(snap.Mode))
	}

	elapsed := formatDuration(snap.Elapsed(m.clock()))
	if snap.Mode == session.ModeContinuous && snap.DurationMinutes > 0 {
		b.WriteString(fmt.Sprintf("  %s / %d:00", elapsed, snap.DurationMinutes))
	} else if snap.StartedAt != nil {
		b.WriteString("  " + elapsed)
	}

	if snap.Message != "" {
		b.WriteString("  ")
		b.WriteString(MutedStyle.Render(snap.Message))
	}

	if s := snap.Server; s != nil {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Server:"))
		b.WriteString(fmt.Sprintf("%s (%s, %s)  %.1f km", s.Name, s.Location, s.Country, s.DistanceKm))
	}
	if c := snap.Client; c != nil {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Client:"))
		b.WriteString(fmt.Sprintf("%s  %s", c.IP, c.ISP))
	}

	return b.String()
}

// renderTable renders one row per metric with its live sparkline
func (m Model) renderTable() string {
	columns := components.MetricColumns(m.width)
	table := components.NewTable(columns)
	trendWidth := columns[len(columns)-1].Width

	rows := []string{table.RenderHeader(), table.RenderSeparator()}
	for i, kind := range storage.Kinds {
		rows = append(rows, table.RenderRow(m.metricRow(kind, trendWidth), i == m.selectedIdx))
	}

	return strings.Join(rows, "\n")
}

// metricRow renders the cells of a metric's row
func (m Model) metricRow(kind storage.Kind, trendWidth int) []string {
	var current *float64
	var st *stats.Statistics
	switch kind {
	case storage.KindPing:
		current, st = m.snap.CurrentSpeed.Ping, m.snap.SampleStats.Ping
	case storage.KindDownload:
		current, st = m.snap.CurrentSpeed.Download, m.snap.SampleStats.Download
	case storage.KindUpload:
		current, st = m.snap.CurrentSpeed.Upload, m.snap.SampleStats.Upload
	}

	avg, lo, hi := MutedStyle.Render("--"), MutedStyle.Render("--"), MutedStyle.Render("--")
	if st != nil {
		avg = FormatValue(kind, st.Avg)
		lo = FormatValue(kind, st.Min)
		hi = FormatValue(kind, st.Max)
	}

	series := m.snap.LiveSeries.Get(kind)
	var trend string
	if kind == storage.KindPing {
		trend = components.Sparkline(series, trendWidth, MetricColors[kind])
	} else {
		// Throughput is scaled from zero so a steady link looks flat
		top := 0.0
		for _, v := range series {
			top = math.Max(top, v)
		}
		trend = components.SparklineWithRange(series, trendWidth, 0, top, MetricColors[kind])
	}

	return []string{metricName(kind), FormatOptional(kind, current), avg, lo, hi, trend}
}

func metricName(kind storage.Kind) string {
	switch kind {
	case storage.KindPing:
		return "Ping"
	case storage.KindDownload:
		return "Download"
	case storage.KindUpload:
		return "Upload"
	}
	return string(kind)
}

// renderResult renders the final result and its quality assessment
func (m Model) renderResult() string {
	r := m.snap.FinalResult
	var b strings.Builder

	b.WriteString(SectionStyle.Render("Result"))
	b.WriteString(MutedStyle.Render("  " + r.CompletedAt.Local().Format("15:04:05")))
	b.WriteString("\n  ")
	b.WriteString(LabelStyle.Render("Download:"))
	b.WriteString(FormatValue(storage.KindDownload, r.Download))
	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("Upload:"))
	b.WriteString(FormatValue(storage.KindUpload, r.Upload))
	b.WriteString("\n  ")
	b.WriteString(LabelStyle.Render("Ping:"))
	b.WriteString(FormatValue(storage.KindPing, r.Ping))
	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("Jitter:"))
	b.WriteString(fmt.Sprintf("%.1fms", r.Jitter))

	if q := m.snap.Quality; q != nil {
		b.WriteString("\n  ")
		b.WriteString(LabelStyle.Render("Quality:"))
		b.WriteString(RatingStyle(q.Rating).Render(string(q.Rating)))
		for _, rec := range q.Recommendations {
			b.WriteString("\n    • ")
			b.WriteString(rec)
		}
	}

	return b.String()
}

// renderContinuous renders progress, the iteration graph, minute buckets and the summary
func (m Model) renderContinuous() string {
	snap := m.snap
	var b strings.Builder

	b.WriteString(SectionStyle.Render("Stability"))
	if rs := snap.RunningStats; rs != nil {
		b.WriteString(fmt.Sprintf("  %d tests  ", rs.TestCount))
		b.WriteString(progressBar(rs.ProgressPercent, 20))
		b.WriteString(fmt.Sprintf(" %.0f%%", rs.ProgressPercent))
		b.WriteString("\n  ")
		b.WriteString(LabelStyle.Render("Averages:"))
		b.WriteString(fmt.Sprintf("%s down  %s up  %s ping",
			FormatValue(storage.KindDownload, rs.AvgDownload),
			FormatValue(storage.KindUpload, rs.AvgUpload),
			FormatValue(storage.KindPing, rs.AvgPing)))
	}
	if c := snap.Consistency; c != nil {
		b.WriteString("\n  ")
		b.WriteString(LabelStyle.Render("Consistency:"))
		b.WriteString(fmt.Sprintf(" %.0f%% down  %.0f%% up  %.0f%% ping", c.Download, c.Upload, c.Ping))
	}
	b.WriteString("\n")

	if len(snap.Iterations) > 0 {
		b.WriteString(m.renderGraph())
		b.WriteString("\n")
	}

	if len(snap.MinuteBuckets) > 0 {
		b.WriteString(m.renderBuckets())
		b.WriteString("\n")
	}

	if s := snap.Summary; s != nil {
		b.WriteString(LabelStyle.Render("Score:"))
		if s.StabilityScore != nil {
			b.WriteString(scoreStyle(*s.StabilityScore).Render(fmt.Sprintf("%.0f%%", *s.StabilityScore)))
		} else {
			b.WriteString(MutedStyle.Render("--"))
		}
		b.WriteString(fmt.Sprintf("  %d tests over %d min", s.TestCount, s.Duration))
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderGraph plots the selected metric across completed iterations
func (m Model) renderGraph() string {
	kind := m.SelectedKind()
	points := make([]components.GraphPoint, 0, len(m.snap.Iterations))
	for _, it := range m.snap.Iterations {
		v := it.Download
		switch kind {
		case storage.KindPing:
			v = it.Ping
		case storage.KindUpload:
			v = it.Upload
		}
		points = append(points, components.GraphPoint{Timestamp: it.Timestamp, Value: v})
	}

	config := components.DefaultGraphConfig()
	config.Width = min(max(m.width-4, 30), 80)
	config.Color = MetricColors[kind]
	config.Unit = "M"
	if kind == storage.KindPing {
		config.Unit = "ms"
	}

	return MutedStyle.Render(metricName(kind)+" per iteration") + "\n" + components.Graph(points, config)
}

// renderBuckets renders the newest minute buckets
func (m Model) renderBuckets() string {
	table := components.NewTable(components.BucketColumns())
	rows := []string{table.RenderHeader(), table.RenderSeparator()}

	buckets := m.snap.MinuteBuckets
	if len(buckets) > maxBucketRows {
		buckets = buckets[len(buckets)-maxBucketRows:]
	}
	for _, bk := range buckets {
		rows = append(rows, table.RenderRow([]string{
			fmt.Sprintf("%d", bk.Minute),
			fmt.Sprintf("%d", bk.Tests),
			FormatValue(storage.KindDownload, bk.Download.Avg),
			FormatValue(storage.KindUpload, bk.Upload.Avg),
			FormatValue(storage.KindPing, bk.Ping.Avg),
			BucketRatingStyle(bk.Rating).Render(string(bk.Rating)),
		}, false))
	}

	return strings.Join(rows, "\n")
}

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 90:
		return GoodStyle.Bold(true)
	case score >= 70:
		return WarnStyle.Bold(true)
	default:
		return BadStyle.Bold(true)
	}
}

// progressBar renders pct (0-100) as a bar of width cells
func progressBar(pct float64, width int) string {
	filled := int(math.Round(math.Max(0, math.Min(100, pct)) / 100 * float64(width)))
	return GoodStyle.Render(strings.Repeat("█", filled)) +
		MutedStyle.Render(strings.Repeat("░", width-filled))
}

// renderHelp renders the help footer
func (m Model) renderHelp() string {
	keys := []struct {
		key  string
		desc string
	}{
		{"s", "single test"},
		{"c", fmt.Sprintf("continuous (%d min)", m.Duration())},
		{"+/-", "duration"},
		{"x", "stop"},
		{"↑/↓", "metric"},
		{"q", "quit"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts,
			HelpKeyStyle.Render(k.key)+
				HelpStyle.Render(" "+k.desc))
	}

	return HelpStyle.Render(strings.Join(parts, "  "))
}
