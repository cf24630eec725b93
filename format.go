package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable decimal size string (e.g. "5.2MB").
func formatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	if t.Year() == now.Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// barWidth is the number of cells in the terminal progress bar.
const barWidth = 30

// progressRenderer draws upload progress. On a terminal it redraws one line
// with a bar; otherwise it prints a line per change so logs stay readable.
// Percent updates arrive from chunk goroutines.
type progressRenderer struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	quiet bool
	name  string
	size  int64
	last  int
	drawn bool
}

func newProgressRenderer(w io.Writer, tty, quiet bool, name string, size int64) *progressRenderer {
	return &progressRenderer{w: w, tty: tty, quiet: quiet, name: name, size: size, last: -1}
}

func (p *progressRenderer) update(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quiet || pct == p.last {
		return
	}

	p.last = pct
	p.drawn = true

	if !p.tty {
		fmt.Fprintf(p.w, "Uploading %s: %d%%\n", p.name, pct)
		return
	}

	filled := pct * barWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	done := p.size * int64(pct) / 100

	fmt.Fprintf(p.w, "\r%s [%s] %3d%% %s / %s", p.name, bar, pct, formatSize(done), formatSize(p.size))
}

// finish ends the redrawn terminal line so later output starts cleanly.
func (p *progressRenderer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty && p.drawn && !p.quiet {
		fmt.Fprintln(p.w)
	}
}
