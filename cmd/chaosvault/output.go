package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/TheMichaelB/chaosvault/internal/services/transform"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	mutedColor   = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stderr, "→ "+format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ProgressDisplay renders transform progress on a spinner line.
type ProgressDisplay struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	enabled bool
}

// NewProgressDisplay starts a spinner unless output is JSON or verbose.
func NewProgressDisplay(message string) *ProgressDisplay {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")

	d := &ProgressDisplay{spinner: s, enabled: !jsonOutput && !verbose}
	if d.enabled {
		s.Start()
	}
	return d
}

// Report implements transform.ProgressSink.
func (d *ProgressDisplay) Report(p transform.Progress) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch p.Phase {
	case transform.PhaseTransforming:
		d.spinner.Suffix = fmt.Sprintf(" %s %d/%d %s", p.Phase, p.FilesProcessed, p.TotalFiles, mutedColor.Sprint(p.CurrentFile))
	default:
		d.spinner.Suffix = fmt.Sprintf(" %s", p.Phase)
	}
}

// SetMessage replaces the spinner text.
func (d *ProgressDisplay) SetMessage(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spinner.Suffix = " " + message
}

// Close stops the spinner.
func (d *ProgressDisplay) Close() {
	if d.enabled {
		d.spinner.Stop()
	}
}
