// Package imageprep validates uploaded images and normalizes them into the
// payload shape try-on providers accept.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"mime"
	"strings"

	"github.com/disintegration/imaging"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

const (
	DefaultMaxBytes     = 10 << 20
	DefaultMaxReencodes = 5
	DefaultJPEGQuality  = 85
	// DefaultMaxPixels caps declared dimensions; decoding allocates W×H×4 bytes.
	DefaultMaxPixels = 25_000_000
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// Options configures a Preparer.
type Options struct {
	MaxBytes     int
	MaxReencodes int
	JPEGQuality  int
	MaxPixels    int
	Logger       *infra.Logger
}

// Preparer turns raw uploads into PreparedImages. It holds no mutable state
// and is safe for concurrent use.
type Preparer struct {
	maxBytes     int
	maxReencodes int
	quality      int
	maxPixels    int
	logger       *infra.Logger
}

// NewPreparer applies defaults to opts.
func NewPreparer(opts Options) *Preparer {
	p := &Preparer{
		maxBytes:     opts.MaxBytes,
		maxReencodes: opts.MaxReencodes,
		quality:      opts.JPEGQuality,
		maxPixels:    opts.MaxPixels,
		logger:       infra.LoggerOrDiscard(opts.Logger),
	}
	if p.maxBytes <= 0 {
		p.maxBytes = DefaultMaxBytes
	}
	if p.maxReencodes <= 0 {
		p.maxReencodes = DefaultMaxReencodes
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = DefaultJPEGQuality
	}
	if p.maxPixels <= 0 {
		p.maxPixels = DefaultMaxPixels
	}
	return p
}

// MaxBytes returns the payload ceiling enforced on prepared images.
func (p *Preparer) MaxBytes() int {
	return p.maxBytes
}

// Prepare validates raw against its declared MIME type and its magic bytes,
// then re-encodes it until it fits under the size ceiling. An empty
// declaredMIME defers to the sniffed type. Identical input always yields
// identical output.
func (p *Preparer) Prepare(raw []byte, declaredMIME string) (domain.PreparedImage, error) {
	declared, err := normalizeMIME(declaredMIME)
	if err != nil {
		return domain.PreparedImage{}, err
	}
	sniffed, err := Sniff(raw)
	if err != nil {
		return domain.PreparedImage{}, err
	}
	if declared != "" && declared != sniffed {
		return domain.PreparedImage{}, fmt.Errorf("%w: declared %s but content is %s", domain.ErrInvalidImageData, declared, sniffed)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.PreparedImage{}, fmt.Errorf("%w: %v", domain.ErrInvalidImageData, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return domain.PreparedImage{}, fmt.Errorf("%w: empty dimensions %dx%d", domain.ErrInvalidImageData, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return domain.PreparedImage{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrImageTooLarge, cfg.Width, cfg.Height, p.maxPixels)
	}

	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.PreparedImage{}, fmt.Errorf("%w: %v", domain.ErrInvalidImageData, err)
	}
	bounds := src.Bounds()

	if len(raw) <= p.maxBytes {
		return domain.PreparedImage{
			Data:         raw,
			Encoded:      base64.StdEncoding.EncodeToString(raw),
			MIMEType:     sniffed,
			OriginalSize: len(raw),
			Width:        bounds.Dx(),
			Height:       bounds.Dy(),
		}, nil
	}

	for iteration := 1; iteration <= p.maxReencodes; iteration++ {
		data, width, height, err := p.encodeAt(src, iteration)
		if err != nil {
			return domain.PreparedImage{}, err
		}
		p.logger.Debug().
			Int("iteration", iteration).
			Int("bytes", len(data)).
			Int("width", width).
			Int("height", height).
			Msg("imageprep: re-encoded oversized image")
		if len(data) <= p.maxBytes {
			return domain.PreparedImage{
				Data:         data,
				Encoded:      base64.StdEncoding.EncodeToString(data),
				MIMEType:     domain.MIMEJPEG,
				OriginalSize: len(raw),
				Width:        width,
				Height:       height,
				Reencodes:    iteration,
			}, nil
		}
		if width == 1 && height == 1 {
			break
		}
	}
	return domain.PreparedImage{}, fmt.Errorf("%w: %d bytes exceeds %d after %d re-encodes", domain.ErrImageTooLarge, len(raw), p.maxBytes, p.maxReencodes)
}

// encodeAt renders src as JPEG at 1/2^(iteration-1) of its resolution,
// flattening transparency onto white.
func (p *Preparer) encodeAt(src image.Image, iteration int) ([]byte, int, int, error) {
	bounds := src.Bounds()
	shift := uint(iteration - 1)
	width := max(bounds.Dx()>>shift, 1)
	height := max(bounds.Dy()>>shift, 1)

	var img image.Image = src
	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(src, width, height, imaging.Lanczos)
	}
	canvas := imaging.New(width, height, color.White)
	flat := imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("imageprep: encode jpeg: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// Sniff identifies the image type from its header bytes.
func Sniff(raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, jpegMagic):
		return domain.MIMEJPEG, nil
	case bytes.HasPrefix(raw, pngMagic):
		return domain.MIMEPNG, nil
	case len(raw) == 0:
		return "", fmt.Errorf("%w: empty payload", domain.ErrInvalidImageData)
	default:
		return "", fmt.Errorf("%w: unrecognized image header", domain.ErrInvalidImageData)
	}
}

func normalizeMIME(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, raw)
	}
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return domain.MIMEJPEG, nil
	case "image/png", "image/x-png":
		return domain.MIMEPNG, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mediaType)
	}
}
