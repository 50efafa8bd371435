package ui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/spherical/takeoff/internal/domain"
)

// Table prints rows under headers in aligned columns.
func (c *Console) Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// Box prints content inside a titled border.
func (c *Console) Box(title, content string) {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := max(len([]rune(title)), 40)
	for _, line := range lines {
		width = max(width, len([]rune(line)))
	}

	bar := strings.Repeat("─", width+2)
	fmt.Fprintf(c.out, "┌%s┐\n", bar)
	if title != "" {
		fmt.Fprintf(c.out, "│ %s │\n", pad(title, width))
		fmt.Fprintf(c.out, "├%s┤\n", bar)
	}
	for _, line := range lines {
		fmt.Fprintf(c.out, "│ %s │\n", pad(line, width))
	}
	fmt.Fprintf(c.out, "└%s┘\n", bar)
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-len([]rune(s)))
}

// Steps prints the wizard step indicator with the current step highlighted
// and steps that are not reachable dimmed.
func (c *Console) Steps(labels []string, current int, reachable func(step int) bool) {
	parts := make([]string, len(labels))
	for i, label := range labels {
		step := i + 1
		text := fmt.Sprintf("%d %s", step, label)
		switch {
		case step == current:
			parts[i] = color.New(color.Bold, color.FgCyan).Sprintf("[%s]", text)
		case reachable != nil && reachable(step):
			parts[i] = text
		default:
			parts[i] = color.New(color.Faint).Sprint(text)
		}
	}
	fmt.Fprintln(c.out, strings.Join(parts, " › "))
}

// Result prints a processing result: summary, per-class counts and the
// analysis text.
func (c *Console) Result(r *domain.ProcessingResult) {
	if r == nil {
		c.Warning("No result")
		return
	}
	c.Section(fmt.Sprintf("Results for page %d", r.PageNumber))
	c.KeyValue("File", r.FileID)
	c.KeyValue("Status", r.Status)
	c.KeyValue("Tiles processed", fmt.Sprintf("%d", r.TotalTilesProcessed))
	c.KeyValue("Processing time", FormatDuration(r.ProcessingTime()))
	c.KeyValue("Total detections", fmt.Sprintf("%d", r.Detections.TotalDetections))
	stats := r.Detections.ConfidenceStats
	if r.Detections.TotalDetections > 0 {
		c.KeyValue("Confidence", fmt.Sprintf("mean %.2f, min %.2f, max %.2f", stats.Mean, stats.Min, stats.Max))
	}
	c.Newline()

	if len(r.Detections.DetectionsByClass) > 0 {
		c.Table([]string{"CLASS", "COUNT"}, ClassRows(r.Detections.DetectionsByClass))
		c.Newline()
	}
	if len(r.Detections.AllDetections) > 0 && c.verbose {
		rows := make([][]string, 0, len(r.Detections.AllDetections))
		for _, d := range r.Detections.AllDetections {
			rows = append(rows, []string{d.ClassName, fmt.Sprintf("%.2f", d.Confidence), formatBBox(d.BBox)})
		}
		c.Table([]string{"CLASS", "CONFIDENCE", "BBOX"}, rows)
		c.Newline()
	}
	if text := strings.TrimSpace(r.Analysis.FormattedOutput); text != "" {
		c.Box("Analysis", text)
	}
}

// ClassRows orders per-class counts by count descending, then name.
func ClassRows(byClass map[string]int) [][]string {
	names := make([]string, 0, len(byClass))
	for name := range byClass {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if n := cmp.Compare(byClass[b], byClass[a]); n != 0 {
			return n
		}
		return cmp.Compare(a, b)
	})
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, fmt.Sprintf("%d", byClass[name])}
	}
	return rows
}

func formatBBox(b []float64) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%.0f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Models prints the server's model catalogue.
func (c *Console) Models(models []domain.ModelInfo) {
	rows := make([][]string, len(models))
	for i, m := range models {
		rows[i] = []string{m.Name, m.Description, strings.Join(m.Classes, ", ")}
	}
	c.Table([]string{"MODEL", "DESCRIPTION", "CLASSES"}, rows)
}

// FormatDuration renders d rounded for display. Sub-minute durations keep
// one decimal.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
