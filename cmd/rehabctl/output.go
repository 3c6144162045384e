package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/rehabtrack/internal/analytics"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	"github.com/spf13/cobra"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Notices go to stderr so stdout stays clean for --json and piping.

func printSuccess(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.ErrOrStderr(), colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printWarning(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.ErrOrStderr(), colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

// printError reports a failed command; it runs after cobra has returned.
func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printField(w io.Writer, label, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor marks finished jobs green or red and in-flight ones cyan.
func statusColor(s models.JobStatus) string {
	switch s {
	case models.JobStatusDone:
		return colorGreen
	case models.JobStatusError, models.JobStatusTimeout:
		return colorRed
	default:
		return colorCyan
	}
}

// painSeverity buckets a 1..10 pain level the way the pain history screen does.
func painSeverity(level int) (string, string) {
	switch {
	case level >= 8:
		return "severe", colorRed
	case level >= 5:
		return "moderate", colorYellow
	default:
		return "mild", colorGreen
	}
}

func printJob(w io.Writer, job *models.Job) {
	printField(w, "Job", "%s", job.ID)
	printField(w, "Status", "%s", colorize(statusColor(job.Status), string(job.Status)))
	printField(w, "Exercise", "%s", job.ExerciseRef)
	if job.Result != nil {
		printField(w, "Reps", "%d", job.Result.RepCount)
		if job.Result.Feedback != "" {
			printField(w, "Feedback", "%s", job.Result.Feedback)
		}
	}
	if job.ErrorMessage != nil {
		printField(w, "Error", "%s", *job.ErrorMessage)
	}
}

func printJobTable(w io.Writer, jobs []models.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs.")
		return
	}
	for _, j := range jobs {
		// Pad before coloring so escape codes do not skew the columns.
		status := colorize(statusColor(j.Status), fmt.Sprintf("%-10s", j.Status))
		fmt.Fprintf(w, "%-38s %s %-16s %s\n", j.ID, status, j.ExerciseRef, j.SubmittedAt.Format(time.RFC3339))
	}
}

func printReport(w io.Writer, report *analytics.Report) {
	for _, b := range report.Buckets {
		if b.Count == 0 {
			fmt.Fprintf(w, "%s  %5s\n", b.Label, "-")
			continue
		}
		bar := strings.Repeat("#", int(b.Average+0.5))
		fmt.Fprintf(w, "%s  %5.1f  %-10s (%d)\n", b.Label, b.Average, bar, b.Count)
	}
	s := report.Summary
	if s.Count == 0 {
		fmt.Fprintln(w, "No pain logged in this range.")
		return
	}
	printField(w, "Mean", "%.1f over %d days", s.Mean, s.Count)
	printField(w, "Range", "%.1f to %.1f", s.Min, s.Max)
	if report.Latest != nil {
		printField(w, "Latest", "%d on %s", report.Latest.Value, report.Latest.RecordedAt.Format("2006-01-02 15:04"))
	}
}

func printHistory(w io.Writer, samples []models.Sample) {
	if len(samples) == 0 {
		fmt.Fprintln(w, "No pain logged yet.")
		return
	}
	for _, s := range samples {
		label, color := painSeverity(s.Value)
		fmt.Fprintf(w, "%s  %2d/10  %s", s.RecordedAt.Format("2006-01-02 15:04"), s.Value,
			colorize(color, fmt.Sprintf("%-8s", label)))
		if s.Note != "" {
			fmt.Fprintf(w, "  %s", s.Note)
		}
		fmt.Fprintln(w)
	}
}
