// Package processing talks to the remote video analysis service. Everything
// the service returns is parsed strictly here, so callers only ever see
// well-formed models or one of the sentinel errors below.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// Sentinel errors for processing service failures.
var (
	ErrTransport         = errors.New("processing service unreachable")
	ErrRemote            = errors.New("processing service reported an error")
	ErrMalformedResponse = errors.New("malformed processing service response")
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client is the interface for the remote processing service.
type Client interface {
	UploadVideo(ctx context.Context, req UploadRequest) (*UploadResponse, error)
	TriggerAnalysis(ctx context.Context, jobID string, meta JobMeta) error
	FetchStatus(ctx context.Context, jobID string) (*StatusReport, error)
}

// JobMeta identifies who a job belongs to and what was recorded.
type JobMeta struct {
	OwnerID     uuid.UUID
	SubjectID   uuid.UUID
	ExerciseRef string
}

// Video is the file part of an upload. Content is read exactly once.
type Video struct {
	Name    string
	Size    int64
	Content io.Reader
}

// UploadRequest is a single multipart upload.
type UploadRequest struct {
	JobID string
	JobMeta
	Video Video
}

// UploadResponse is an accepted upload. JobID is empty when the service
// did not echo one back.
type UploadResponse struct {
	JobID   string
	Message string
}

// StatusReport is the parsed answer of the status endpoint. Result is set
// only for StatusDone; Message only for StatusError.
type StatusReport struct {
	Status  models.JobStatus
	Result  *models.AnalysisResult
	Message string
}

// HTTPClient implements Client over the service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a processing client. timeout bounds each request,
// including the upload body.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) UploadVideo(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	if req.Video.Content == nil {
		return nil, fmt.Errorf("upload video: no content")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_video", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	var body uploadResponseBody
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && body.Status == "error" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, remoteMessage(body.Message, resp.StatusCode))
		}
		return nil, fmt.Errorf("%w: upload status %d", ErrTransport, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding upload response: %v", ErrMalformedResponse, decodeErr)
	}

	switch body.Status {
	case "success":
		return &UploadResponse{JobID: strings.TrimSpace(body.JobID), Message: body.Message}, nil
	case "error":
		return nil, fmt.Errorf("%w: %s", ErrRemote, remoteMessage(body.Message, resp.StatusCode))
	default:
		return nil, fmt.Errorf("%w: unknown upload status %q", ErrMalformedResponse, body.Status)
	}
}

func (c *HTTPClient) TriggerAnalysis(ctx context.Context, jobID string, meta JobMeta) error {
	form := url.Values{
		"owner_id":     {meta.OwnerID.String()},
		"subject_id":   {meta.SubjectID.String()},
		"exercise_ref": {meta.ExerciseRef},
	}
	u := fmt.Sprintf("%s/process_video/%s", c.baseURL, url.PathEscape(jobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: trigger status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) FetchStatus(ctx context.Context, jobID string) (*StatusReport, error) {
	u := fmt.Sprintf("%s/video_status/%s", c.baseURL, url.PathEscape(jobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status endpoint returned %d", ErrTransport, resp.StatusCode)
	}

	var body statusResponseBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrMalformedResponse, err)
	}
	return parseStatus(body)
}

func writeUploadForm(mw *multipart.Writer, req UploadRequest) error {
	fields := [][2]string{
		{"owner_id", req.OwnerID.String()},
		{"subject_id", req.SubjectID.String()},
		{"exercise_ref", req.ExerciseRef},
		{"job_id", req.JobID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", req.Video.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Video.Content); err != nil {
		return err
	}
	return mw.Close()
}

// parseStatus turns the wire payload into a StatusReport, rejecting anything
// that would violate the result-iff-done rule.
func parseStatus(body statusResponseBody) (*StatusReport, error) {
	switch body.Status {
	case "uploaded", "pending", "queued":
		return &StatusReport{Status: models.JobStatusUploaded}, nil
	case "processing":
		return &StatusReport{Status: models.JobStatusProcessing}, nil
	case "error":
		return &StatusReport{Status: models.JobStatusError, Message: remoteMessage(body.Message, 0)}, nil
	case "done":
		if body.Result == nil {
			return nil, fmt.Errorf("%w: done without result", ErrMalformedResponse)
		}
		if body.Result.Reps == nil {
			return nil, fmt.Errorf("%w: result without reps", ErrMalformedResponse)
		}
		if *body.Result.Reps < 0 {
			return nil, fmt.Errorf("%w: negative reps %d", ErrMalformedResponse, *body.Result.Reps)
		}
		metrics := body.Result.Metrics
		if metrics == nil {
			metrics = map[string]float64{}
		}
		return &StatusReport{
			Status: models.JobStatusDone,
			Result: &models.AnalysisResult{
				RepCount: *body.Result.Reps,
				Metrics:  metrics,
				Feedback: body.Result.Feedback,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, body.Status)
	}
}

func remoteMessage(msg string, code int) string {
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	if code != 0 {
		return fmt.Sprintf("status %d", code)
	}
	return "analysis failed"
}

// classifyError maps transport-level errors to ErrTransport, keeping the
// context error in the chain so callers can tell cancellation apart.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}

	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// --- wire types ---

type uploadResponseBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type statusResponseBody struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Result  *resultBody `json:"result"`
}

type resultBody struct {
	Reps     *int               `json:"reps"`
	Metrics  map[string]float64 `json:"metrics"`
	Feedback string             `json:"feedback"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
