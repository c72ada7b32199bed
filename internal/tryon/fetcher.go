package tryon

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

const DefaultResultMaxBytes = 25 << 20

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	HTTPClient *http.Client
	MaxBytes   int64
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	Logger  *infra.Logger
}

// Fetcher downloads a finished job's image and inlines it as a data URL.
// Nothing is cached.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *infra.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultResultMaxBytes
	}
	return &Fetcher{httpClient: httpClient, maxBytes: maxBytes, logger: infra.LoggerOrDiscard(opts.Logger)}
}

// Fetch performs a single read of ref. Transport failures and non-2xx
// responses are ErrResultFetch; bytes that do not decode completely as an
// image are ErrResultDecode.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (domain.Deliverable, error) {
	ref = strings.TrimSpace(ref)
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "data:") {
		data, err = decodeDataURL(ref)
	} else {
		data, err = f.download(ctx, ref)
	}
	if err != nil {
		return domain.Deliverable{}, err
	}

	// a full decode, since a truncated body still carries a valid header
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("%w: %v", domain.ErrResultDecode, err)
	}
	mimeType := "image/" + format
	encoded := base64.StdEncoding.EncodeToString(data)
	f.logger.Debug().
		Str("url", redact(ref)).
		Int("bytes", len(data)).
		Str("format", format).
		Msg("tryon: result fetched")
	return domain.Deliverable{
		EncodedImage: "data:" + mimeType + ";base64," + encoded,
		Data:         data,
		MIMEType:     mimeType,
		SourceURL:    ref,
	}, nil
}

func (f *Fetcher) download(ctx context.Context, ref string) ([]byte, error) {
	parsed, err := url.Parse(ref)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid result url %q", domain.ErrResultFetch, redact(ref))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrResultFetch, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrResultFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrResultFetch, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrResultFetch, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: result exceeds %d bytes", domain.ErrResultFetch, f.maxBytes)
	}
	return data, nil
}

func decodeDataURL(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: unsupported data url", domain.ErrResultDecode)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResultDecode, err)
	}
	return data, nil
}

// redact drops query strings, which carry signatures on provider CDNs.
func redact(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return "data:..."
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i]
	}
	return ref
}
