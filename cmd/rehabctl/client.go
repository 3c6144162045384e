package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const ownerHeader = "X-Owner-ID"

type apiClient struct {
	baseURL    string
	owner      string
	httpClient *http.Client
}

// apiError is the server's error envelope.
type apiError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

var newAPIClient = func(cmd *cobra.Command) (*apiClient, error) {
	server, _ := cmd.Flags().GetString("server")
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		return nil, errors.New("--owner (or REHAB_OWNER_ID) is required")
	}
	if _, err := uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("--owner must be a UUID: %w", err)
	}
	return &apiClient{
		baseURL:    strings.TrimRight(server, "/"),
		owner:      owner,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ownerHeader, c.owner)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decodeData(resp, v)
}

func (c *apiClient) post(ctx context.Context, path string, body, v any) error {
	var r io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		r = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, http.MethodPost, path, r, contentType)
	if err != nil {
		return err
	}
	return decodeData(resp, v)
}

func (c *apiClient) delete(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return err
	}
	return decodeData(resp, v)
}

// upload streams the file at path as the multipart field "file" alongside fields.
func (c *apiClient) upload(ctx context.Context, apiPath string, fields map[string]string, path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mpw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mpw, fields, filepath.Base(path), f))
	}()

	resp, err := c.do(ctx, http.MethodPost, apiPath, pr, mpw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	return decodeData(resp, v)
}

func writeForm(mpw *multipart.Writer, fields map[string]string, name string, content io.Reader) error {
	for k, val := range fields {
		if err := mpw.WriteField(k, val); err != nil {
			return err
		}
	}
	part, err := mpw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mpw.Close()
}

// decodeData unwraps {"data": ...} into v, or returns the error envelope as *apiError.
func decodeData(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var env struct {
			Error apiError `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
			return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		env.Error.Status = resp.StatusCode
		return &env.Error
	}
	if v == nil {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return json.Unmarshal(env.Data, v)
}
