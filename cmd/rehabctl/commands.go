package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/analytics"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	"github.com/spf13/cobra"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <video-file>",
	Short: "Upload an exercise video for analysis",
	Long: `Upload an exercise video for analysis.

Examples:
  rehabctl submit squat.mp4 --subject 3f1c... --exercise squat
  rehabctl submit squat.mp4 --subject 3f1c... --exercise squat --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		exercise, _ := cmd.Flags().GetString("exercise")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if _, err := uuid.Parse(subject); err != nil {
			return fmt.Errorf("--subject must be a UUID")
		}
		if exercise == "" {
			return fmt.Errorf("--exercise is required")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		var job models.Job
		err = client.upload(cmd.Context(), "/api/v1/videos", map[string]string{
			"subject_id":   subject,
			"exercise_ref": exercise,
		}, args[0], &job)
		if err != nil {
			return err
		}
		printSuccess(cmd, "Submitted job %s", job.ID)

		if wait {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			final, err := waitForJob(ctx, client, job.ID, interval)
			if err != nil {
				return err
			}
			job = *final
		}
		printJob(cmd.OutOrStdout(), &job)
		return nil
	},
}

func init() {
	submitCmd.Flags().String("subject", "", "subject (patient) id")
	submitCmd.Flags().String("exercise", "", "exercise reference, e.g. squat")
	submitCmd.Flags().Bool("wait", false, "wait until the job finishes")
	submitCmd.Flags().Duration("interval", 3*time.Second, "status check interval with --wait")
	submitCmd.Flags().Duration("timeout", 10*time.Minute, "give up waiting after this long")
}

// waitForJob reads the job until it reaches a terminal status.
func waitForJob(ctx context.Context, client *apiClient, jobID string, interval time.Duration) (*models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var job models.Job
		if err := client.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return &job, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s still %s: %w", jobID, job.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

// --- job / jobs ---

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show one job and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		var job models.Job
		if err := client.get(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0]), &job); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), job)
		}
		printJob(cmd.OutOrStdout(), &job)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List your jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		if status != "" && !models.JobStatus(status).Valid() {
			return fmt.Errorf("--status must be one of uploaded, processing, done, error, timeout")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(limit))

		var jobs []models.Job
		if err := client.get(cmd.Context(), "/api/v1/jobs?"+q.Encode(), &jobs); err != nil {
			return err
		}

		printJobTable(cmd.OutOrStdout(), jobs)
		return nil
	},
}

func init() {
	jobCmd.Flags().Bool("json", false, "print the raw job as JSON")
	jobsCmd.Flags().String("status", "", "only jobs in this status")
	jobsCmd.Flags().Int("page", 1, "page number")
	jobsCmd.Flags().Int("limit", 20, "jobs per page")
}

// --- watch / unwatch ---

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Restart server-side polling for an unfinished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var job models.Job
		if err := client.post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/watch", nil, &job); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code == "JOB_TERMINAL" {
				printWarning(cmd, "Job %s has already finished", args[0])
				return nil
			}
			return err
		}
		printSuccess(cmd, "Watching job %s (%s)", job.ID, job.Status)
		return nil
	},
}

var unwatchCmd = &cobra.Command{
	Use:   "unwatch <job-id>",
	Short: "Stop server-side polling for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var res struct {
			Stopped bool `json:"stopped"`
		}
		if err := client.delete(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/watch", &res); err != nil {
			return err
		}
		if !res.Stopped {
			printWarning(cmd, "Job %s was not being polled", args[0])
			return nil
		}
		printSuccess(cmd, "Stopped polling job %s", args[0])
		return nil
	},
}

// --- log-pain ---

var logPainCmd = &cobra.Command{
	Use:   "log-pain <1-10>",
	Short: "Record a pain level for a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		note, _ := cmd.Flags().GetString("note")
		at, _ := cmd.Flags().GetString("at")

		value, err := strconv.Atoi(args[0])
		if err != nil || value < models.MinPainLevel || value > models.MaxPainLevel {
			return fmt.Errorf("pain level must be a whole number from %d to %d", models.MinPainLevel, models.MaxPainLevel)
		}
		if _, err := uuid.Parse(subject); err != nil {
			return fmt.Errorf("--subject must be a UUID")
		}
		body := map[string]any{"subject_id": subject, "value": value}
		if note != "" {
			body["note"] = note
		}
		if at != "" {
			if _, err := time.Parse(time.RFC3339, at); err != nil {
				return fmt.Errorf("--at must be an RFC3339 timestamp")
			}
			body["recorded_at"] = at
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var sample models.Sample
		if err := client.post(cmd.Context(), "/api/v1/samples", body, &sample); err != nil {
			return err
		}
		printSuccess(cmd, "Logged pain %d at %s", sample.Value, sample.RecordedAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	logPainCmd.Flags().String("subject", "", "subject (patient) id")
	logPainCmd.Flags().String("note", "", "free-text note")
	logPainCmd.Flags().String("at", "", "when the pain was felt (RFC3339, default now)")
}

// --- analytics ---

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show daily pain averages for a date range",
	Long: `Show daily pain averages for a date range (both dates inclusive).

Examples:
  rehabctl analytics --subject 3f1c... --start 2024-05-01 --end 2024-05-07`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")

		if _, err := uuid.Parse(subject); err != nil {
			return fmt.Errorf("--subject must be a UUID")
		}
		if start == "" || end == "" {
			return fmt.Errorf("--start and --end are required")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{"subject_id": {subject}, "start": {start}, "end": {end}}
		var report analytics.Report
		if err := client.get(cmd.Context(), "/api/v1/analytics?"+q.Encode(), &report); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printReport(cmd.OutOrStdout(), &report)
		return nil
	},
}

func init() {
	analyticsCmd.Flags().String("subject", "", "subject (patient) id")
	analyticsCmd.Flags().String("start", "", "first day, YYYY-MM-DD")
	analyticsCmd.Flags().String("end", "", "last day, YYYY-MM-DD")
	analyticsCmd.Flags().Bool("json", false, "print the raw report as JSON")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a subject's pain logs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		limit, _ := cmd.Flags().GetInt("limit")

		if _, err := uuid.Parse(subject); err != nil {
			return fmt.Errorf("--subject must be a UUID")
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{"subject_id": {subject}, "limit": {strconv.Itoa(limit)}}
		var samples []models.Sample
		if err := client.get(cmd.Context(), "/api/v1/samples?"+q.Encode(), &samples); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), samples)
		}
		printHistory(cmd.OutOrStdout(), samples)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("subject", "", "subject (patient) id")
	historyCmd.Flags().Int("limit", 50, "most recent logs to show")
	historyCmd.Flags().Bool("json", false, "print the raw logs as JSON")
}
