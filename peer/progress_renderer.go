package peer

import (
	"fmt"
	"strings"
	"time"

	"github.com/relaymesh/filemesh/pkg/logger"
)

// ANSI color codes used when rendering the single-line progress bar for
// `filemesh peer --download <file> --non-interactive`, the one code path
// where a download is guaranteed to be the sole thing writing to the
// terminal (see DESIGN.md's Open Question decision on live rendering).
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

const progressBarWidth = 40

// ProgressRenderer redraws a `\r`-updated progress line for one
// DownloadTracker until StopAndWait is called.
type ProgressRenderer struct {
	tracker   *DownloadTracker
	stop      chan struct{}
	useColors bool
}

// NewProgressRenderer creates a renderer that redraws five times a second.
func NewProgressRenderer(tracker *DownloadTracker, useColors bool) *ProgressRenderer {
	return &ProgressRenderer{
		tracker:   tracker,
		stop:      make(chan struct{}),
		useColors: useColors,
	}
}

// Start runs the render loop until Stop or StopAndWait closes it. Intended
// to run in its own goroutine.
func (pr *ProgressRenderer) Start() {
	pr.render()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.tracker.UpdateSpeed()
			pr.render()
		case <-pr.stop:
			return
		}
	}
}

// Stop signals the render loop to exit without waiting for it.
func (pr *ProgressRenderer) Stop() {
	close(pr.stop)
}

// StopAndWait stops the render loop and prints the terminal state: a
// completed-file summary if every chunk of the tracked file finished, or a
// failure summary otherwise.
func (pr *ProgressRenderer) StopAndWait() {
	close(pr.stop)
	if pr.tracker == nil {
		logger.Sugar.Warn("[ProgressRenderer] no tracker attached, nothing to render")
		return
	}
	if pr.tracker.IsComplete() {
		pr.renderComplete()
	} else {
		pr.renderFailed()
	}
}

func (pr *ProgressRenderer) render() {
	completed, total, speed, seederCount, failed := pr.tracker.GetProgress()
	bytesDone := pr.tracker.GetBytesDownloaded()
	fileSize := pr.tracker.GetFileSize()

	var pct float64
	if fileSize > 0 {
		pct = float64(bytesDone) / float64(fileSize) * 100
	}
	bar := renderBar(pct)

	line := fmt.Sprintf("\r[%s] [%s] %.1f%% (%d/%d chunks) | %s/s | %d seeders | ETA: %s",
		pr.tracker.FileName, bar, pct, completed, total,
		formatBytes(speed), seederCount, formatETA(pr.tracker.GetETA()))
	if pr.useColors {
		line = fmt.Sprintf("\r%s[%s]%s [%s] %s%.1f%%%s (%d/%d chunks) | %s%s/s%s | %d seeders | ETA: %s",
			ansiCyan, pr.tracker.FileName, ansiReset,
			bar, ansiYellow, pct, ansiReset, completed, total,
			ansiBlue, formatBytes(speed), ansiReset, seederCount, formatETA(pr.tracker.GetETA()))
	}
	if failed > 0 {
		suffix := fmt.Sprintf(" | %d chunk retries", failed)
		if pr.useColors {
			suffix = ansiRed + suffix + ansiReset
		}
		line += suffix
	}
	fmt.Print(line)
}

func (pr *ProgressRenderer) renderComplete() {
	_, total, _, _, _ := pr.tracker.GetProgress()
	elapsed := pr.tracker.GetElapsedTime()

	fmt.Print("\r\033[K")
	bar := strings.Repeat("█", progressBarWidth)
	if pr.useColors {
		fmt.Printf("%s[%s]%s [%s%s%s] 100%% (%d/%d chunks) | fetched from swarm in %s\n",
			ansiCyan, pr.tracker.FileName, ansiReset, ansiGreen, bar, ansiReset, total, total, formatDuration(elapsed))
		return
	}
	fmt.Printf("[%s] [%s] 100%% (%d/%d chunks) | fetched from swarm in %s\n",
		pr.tracker.FileName, bar, total, total, formatDuration(elapsed))
}

func (pr *ProgressRenderer) renderFailed() {
	fmt.Print("\r\033[K")
	completed, total, _, _, failed := pr.tracker.GetProgress()
	var pct float64
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	if pr.useColors {
		fmt.Printf("%s[%s]%s [%s✗%s] %.1f%% | %sdownload stalled%s: %d/%d chunks landed, %d failed attempts\n",
			ansiCyan, pr.tracker.FileName, ansiReset, ansiRed, ansiReset, pct, ansiRed+ansiBold, ansiReset, completed, total, failed)
		return
	}
	fmt.Printf("[%s] [x] %.1f%% | download stalled: %d/%d chunks landed, %d failed attempts\n",
		pr.tracker.FileName, pct, completed, total, failed)
}

func renderBar(pct float64) string {
	filled := int(float64(progressBarWidth) * pct / 100)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)
}

func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.1f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", bytes/float64(div), "KMGTPE"[exp])
}

func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "?"
	}
	return formatDuration(eta)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}
