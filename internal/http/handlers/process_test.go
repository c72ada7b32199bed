package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"tryon/internal/domain"
	"tryon/internal/tryon"
)

type stubService struct {
	outcome tryon.Outcome
	calls   int
	person  domain.Upload
	garment domain.Upload
}

func (s *stubService) ProcessTryOn(ctx context.Context, person, garment domain.Upload) tryon.Outcome {
	s.calls++
	s.person, s.garment = person, garment
	return s.outcome
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		header.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) processResponse {
	t.Helper()
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestProcessSuccess(t *testing.T) {
	svc := &stubService{outcome: tryon.Outcome{
		Success: true,
		Deliverable: domain.Deliverable{
			EncodedImage: "data:image/png;base64,AAAA",
			SourceURL:    "https://cdn.example.com/out.png",
			Provider:     "kling",
			JobID:        "abc123",
		},
	}}
	app := NewApp(svc, nil, nil, Limits{})
	req := multipartRequest(t,
		part{"person_image", "me.jpg", "image/jpeg", []byte("person-bytes")},
		part{"garment_image", "shirt.png", "image/png", []byte("garment-bytes")},
	)
	rec := httptest.NewRecorder()
	app.Process(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.ResultImage != "data:image/png;base64,AAAA" || resp.TaskID != "abc123" || resp.Provider != "kling" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.OriginalURL != "https://cdn.example.com/out.png" {
		t.Fatalf("OriginalURL = %q", resp.OriginalURL)
	}
	if string(svc.person.Data) != "person-bytes" || svc.person.MIMEType != "image/jpeg" || svc.person.Filename != "me.jpg" {
		t.Fatalf("person upload not forwarded: %+v", svc.person)
	}
	if svc.garment.MIMEType != "image/png" {
		t.Fatalf("garment mime = %q", svc.garment.MIMEType)
	}
}

func TestProcessMissingPart(t *testing.T) {
	svc := &stubService{}
	app := NewApp(svc, nil, nil, Limits{})
	req := multipartRequest(t, part{"person_image", "me.jpg", "image/jpeg", []byte("x")})
	rec := httptest.NewRecorder()
	app.Process(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Success || resp.ErrorKind != string(domain.ClassClientInput) {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.calls != 0 {
		t.Fatalf("service called for incomplete upload")
	}
}

func TestProcessRejectsNonMultipart(t *testing.T) {
	app := NewApp(&stubService{}, nil, nil, Limits{})
	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewBufferString(`{"person":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Process(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessOversizedUpload(t *testing.T) {
	svc := &stubService{}
	app := NewApp(svc, nil, nil, Limits{UploadMaxBytes: 8})
	req := multipartRequest(t,
		part{"person_image", "me.jpg", "image/jpeg", bytes.Repeat([]byte("a"), 16)},
		part{"garment_image", "shirt.png", "image/png", []byte("g")},
	)
	rec := httptest.NewRecorder()
	app.Process(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service called for oversized upload")
	}
}

func TestProcessFailureMapsStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"client input", domain.ErrImageTooLarge, http.StatusBadRequest},
		{"provider", &domain.ProviderError{Provider: "kling", Kind: domain.ErrProviderRejected}, http.StatusBadGateway},
		{"timeout", &domain.ProviderError{Provider: "kling", Kind: domain.ErrJobTimeout}, http.StatusGatewayTimeout},
		{"result", domain.ErrResultDecode, http.StatusBadGateway},
		{"exhausted", &domain.ExhaustedError{Primary: domain.ErrProviderUnavailable, Secondary: domain.ErrJobTimeout}, http.StatusServiceUnavailable},
		{"canceled", context.Canceled, 499},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{outcome: tryon.Outcome{
				ErrorMessage: tc.err.Error(),
				ErrorKind:    domain.Classify(tc.err),
				Err:          tc.err,
			}}
			app := NewApp(svc, nil, nil, Limits{})
			req := multipartRequest(t,
				part{"person_image", "me.jpg", "image/jpeg", []byte("p")},
				part{"garment_image", "shirt.png", "image/png", []byte("g")},
			)
			rec := httptest.NewRecorder()
			app.Process(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			resp := decodeResponse(t, rec)
			if resp.Success || resp.Error == "" || resp.ErrorKind != string(domain.Classify(tc.err)) {
				t.Fatalf("unexpected response: %+v", resp)
			}
			if resp.ResultImage != "" {
				t.Fatalf("failure response carries an image")
			}
		})
	}
}
