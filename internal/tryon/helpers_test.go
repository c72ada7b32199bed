package tryon

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"tryon/internal/domain"
)

// stubAdapter scripts Submit and CheckStatus by call number (1-based).
type stubAdapter struct {
	name     string
	submitFn func(call int, token domain.SignedToken) (string, error)
	checkFn  func(call int, token domain.SignedToken) (domain.StatusReport, error)

	mu      sync.Mutex
	submits int
	checks  int
	tokens  []string
}

func (s *stubAdapter) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubAdapter) Submit(ctx context.Context, req domain.JobRequest, token domain.SignedToken) (string, error) {
	s.mu.Lock()
	s.submits++
	call := s.submits
	s.tokens = append(s.tokens, token.Value)
	s.mu.Unlock()
	if s.submitFn == nil {
		return "job-1", nil
	}
	return s.submitFn(call, token)
}

func (s *stubAdapter) CheckStatus(ctx context.Context, jobID string, token domain.SignedToken) (domain.StatusReport, error) {
	s.mu.Lock()
	s.checks++
	call := s.checks
	s.tokens = append(s.tokens, token.Value)
	s.mu.Unlock()
	if s.checkFn == nil {
		return domain.StatusReport{Status: domain.JobStatusProcessing}, nil
	}
	return s.checkFn(call, token)
}

func (s *stubAdapter) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits, s.checks
}

func sequence(reports ...domain.StatusReport) func(int, domain.SignedToken) (domain.StatusReport, error) {
	return func(call int, _ domain.SignedToken) (domain.StatusReport, error) {
		if call > len(reports) {
			return reports[len(reports)-1], nil
		}
		return reports[call-1], nil
	}
}

// countingSigner issues distinct tokens and counts how often it was asked.
type countingSigner struct {
	mu    sync.Mutex
	ttl   time.Duration
	signs int
}

func (s *countingSigner) Sign(now time.Time) (domain.SignedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signs++
	ttl := s.ttl
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return domain.SignedToken{Value: fmt.Sprintf("tok-%d", s.signs), IssuedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

func (s *countingSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signs
}

func fastClient(t *testing.T, adapter Adapter, signer TokenSource, mutate func(*ClientOptions)) *Client {
	t.Helper()
	opts := ClientOptions{
		Adapter:       adapter,
		Tokens:        signer,
		PollInterval:  time.Millisecond,
		MaxAttempts:   20,
		Timeout:       2 * time.Second,
		CheckAttempts: 2,
		RetryBackoff:  -1,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func solidPNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func pngDataURL(t *testing.T, c color.Color) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(solidPNG(t, 4, 4, c))
}
