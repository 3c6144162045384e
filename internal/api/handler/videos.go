package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

const (
	defaultMaxUploadBytes = 200 << 20
	multipartMemory       = 32 << 20
)

// Submitter defines the interface the video handler depends on.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.Job, error)
}

// NewSubmitVideoHandler returns an http.HandlerFunc for POST /api/v1/videos.
// The form carries subject_id, exercise_ref and the video as file.
func NewSubmitVideoHandler(svc Submitter, maxUploadBytes int64) http.HandlerFunc {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerOrReject(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var mbErr *http.MaxBytesError
			if errors.As(err, &mbErr) {
				writeError(w, r, err)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		subjectID, err := uuid.Parse(strings.TrimSpace(r.FormValue("subject_id")))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id must be a UUID", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		job, err := svc.Submit(r.Context(), pipeline.SubmitRequest{
			OwnerID:     ownerID,
			SubjectID:   subjectID,
			ExerciseRef: strings.TrimSpace(r.FormValue("exercise_ref")),
			Video: pipeline.Video{
				Name:    header.Filename,
				Size:    header.Size,
				Content: file,
			},
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, job)
	}
}
