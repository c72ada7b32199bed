package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tryon/internal/domain"
	"tryon/internal/middleware"
)

const multipartMemory = 32 << 20

type processResponse struct {
	Success     bool   `json:"success"`
	ResultImage string `json:"result_image,omitempty"`
	Provider    string `json:"provider,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	OriginalURL string `json:"original_url,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

// errUploadTooLarge marks uploads rejected before reaching the core.
var errUploadTooLarge = errors.New("upload too large")

// Process runs a try-on for the person_image and garment_image parts. The
// request context is passed through, so a client disconnect abandons polling.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
	maxFile := a.Limits.UploadMaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxFile+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, string(domain.ClassClientInput), "request body too large")
			return
		}
		a.error(w, http.StatusBadRequest, string(domain.ClassClientInput), "expected multipart/form-data with person_image and garment_image")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	person, err := readUpload(r, "person_image", maxFile)
	if err != nil {
		a.uploadError(w, err)
		return
	}
	garment, err := readUpload(r, "garment_image", maxFile)
	if err != nil {
		a.uploadError(w, err)
		return
	}

	outcome := a.TryOn.ProcessTryOn(r.Context(), person, garment)
	if !outcome.Success {
		a.Logger.Warn().
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("error_kind", string(outcome.ErrorKind)).
			Msg("process: try-on failed")
		a.json(w, StatusForError(outcome.Err), processResponse{
			Error:     outcome.ErrorMessage,
			ErrorKind: string(outcome.ErrorKind),
		})
		return
	}

	d := outcome.Deliverable
	resp := processResponse{
		Success:     true,
		ResultImage: d.EncodedImage,
		Provider:    d.Provider,
		TaskID:      d.JobID,
	}
	if !strings.HasPrefix(d.SourceURL, "data:") {
		resp.OriginalURL = d.SourceURL
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) uploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUploadTooLarge) {
		a.error(w, http.StatusRequestEntityTooLarge, string(domain.ClassClientInput), err.Error())
		return
	}
	a.error(w, http.StatusBadRequest, string(domain.ClassClientInput), err.Error())
}

func readUpload(r *http.Request, field string, maxBytes int64) (domain.Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return domain.Upload{}, fmt.Errorf("%s is required", field)
		}
		return domain.Upload{}, fmt.Errorf("%s: %v", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return domain.Upload{}, fmt.Errorf("%s: read: %v", field, err)
	}
	if int64(len(data)) > maxBytes {
		return domain.Upload{}, fmt.Errorf("%s: %w (limit %d bytes)", field, errUploadTooLarge, maxBytes)
	}
	return domain.Upload{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}, nil
}

// StatusForError maps the error taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	switch domain.Classify(err) {
	case domain.ClassNone:
		return http.StatusOK
	case domain.ClassClientInput:
		return http.StatusBadRequest
	case domain.ClassProvider:
		if errors.Is(err, domain.ErrJobTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case domain.ClassResult:
		return http.StatusBadGateway
	case domain.ClassExhausted:
		return http.StatusServiceUnavailable
	case domain.ClassCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
