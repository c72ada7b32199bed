package imageprep

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"tryon/internal/domain"
)

func noiseImage(width, height int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestPreparePassesThroughSmallImages(t *testing.T) {
	raw := encodeJPEG(t, noiseImage(80, 60, 1))
	p := NewPreparer(Options{})

	got, err := p.Prepare(raw, "image/jpeg")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if got.MIMEType != domain.MIMEJPEG {
		t.Fatalf("MIMEType = %q, want %q", got.MIMEType, domain.MIMEJPEG)
	}
	if !bytes.Equal(got.Data, raw) {
		t.Fatalf("small image should be passed through untouched")
	}
	if got.Encoded != base64.StdEncoding.EncodeToString(raw) {
		t.Fatalf("Encoded is not the base64 of the payload")
	}
	if got.Width != 80 || got.Height != 60 {
		t.Fatalf("dimensions = %dx%d, want 80x60", got.Width, got.Height)
	}
	if got.OriginalSize != len(raw) || got.Reencodes != 0 {
		t.Fatalf("unexpected bookkeeping: size=%d reencodes=%d", got.OriginalSize, got.Reencodes)
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	raw := encodePNG(t, noiseImage(128, 128, 7))
	p := NewPreparer(Options{MaxBytes: len(raw) / 2})

	first, err := p.Prepare(raw, "image/png")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	second, err := p.Prepare(raw, "image/png")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if first.Encoded != second.Encoded {
		t.Fatalf("identical input produced different encodings")
	}
}

func TestPrepareRejectsUnsupportedDeclaredType(t *testing.T) {
	raw := encodePNG(t, noiseImage(8, 8, 1))
	p := NewPreparer(Options{})

	for _, declared := range []string{"image/gif", "application/pdf", "image/webp"} {
		if _, err := p.Prepare(raw, declared); !errors.Is(err, domain.ErrUnsupportedFormat) {
			t.Fatalf("Prepare(%q) error = %v, want ErrUnsupportedFormat", declared, err)
		}
	}
}

func TestPrepareAcceptsMIMEAliasesAndParameters(t *testing.T) {
	raw := encodeJPEG(t, noiseImage(8, 8, 1))
	p := NewPreparer(Options{})

	for _, declared := range []string{"image/jpg", "IMAGE/JPEG; charset=binary", ""} {
		got, err := p.Prepare(raw, declared)
		if err != nil {
			t.Fatalf("Prepare(%q) returned error: %v", declared, err)
		}
		if got.MIMEType != domain.MIMEJPEG {
			t.Fatalf("Prepare(%q) MIMEType = %q", declared, got.MIMEType)
		}
	}
}

func TestPrepareRejectsDisguisedPayload(t *testing.T) {
	raw := encodePNG(t, noiseImage(8, 8, 1))
	p := NewPreparer(Options{})

	if _, err := p.Prepare(raw, "image/jpeg"); !errors.Is(err, domain.ErrInvalidImageData) {
		t.Fatalf("error = %v, want ErrInvalidImageData", err)
	}
	if _, err := p.Prepare([]byte("GIF89a not really"), "image/png"); !errors.Is(err, domain.ErrInvalidImageData) {
		t.Fatalf("error = %v, want ErrInvalidImageData", err)
	}
	if _, err := p.Prepare(nil, "image/png"); !errors.Is(err, domain.ErrInvalidImageData) {
		t.Fatalf("error = %v, want ErrInvalidImageData", err)
	}
}

func TestPrepareRejectsCorruptBody(t *testing.T) {
	raw := encodeJPEG(t, noiseImage(32, 32, 1))
	corrupt := append([]byte(nil), raw[:24]...)
	p := NewPreparer(Options{})

	if _, err := p.Prepare(corrupt, "image/jpeg"); !errors.Is(err, domain.ErrInvalidImageData) {
		t.Fatalf("error = %v, want ErrInvalidImageData", err)
	}
}

func TestPrepareDownscalesOversizedImage(t *testing.T) {
	src := noiseImage(256, 192, 3)
	raw := encodePNG(t, src)

	probe := NewPreparer(Options{})
	full, _, _, err := probe.encodeAt(src, 1)
	if err != nil {
		t.Fatalf("encodeAt(1): %v", err)
	}
	half, _, _, err := probe.encodeAt(src, 2)
	if err != nil {
		t.Fatalf("encodeAt(2): %v", err)
	}
	if len(half) >= len(full) || len(half) >= len(raw) {
		t.Fatalf("test fixture invalid: raw=%d full=%d half=%d", len(raw), len(full), len(half))
	}

	p := NewPreparer(Options{MaxBytes: len(half)})
	got, err := p.Prepare(raw, "image/png")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if got.Reencodes != 2 {
		t.Fatalf("Reencodes = %d, want 2", got.Reencodes)
	}
	if got.MIMEType != domain.MIMEJPEG {
		t.Fatalf("MIMEType = %q, want jpeg after re-encode", got.MIMEType)
	}
	if got.Width != 128 || got.Height != 96 {
		t.Fatalf("dimensions = %dx%d, want 128x96", got.Width, got.Height)
	}
	if len(got.Data) > p.MaxBytes() {
		t.Fatalf("prepared payload %d exceeds ceiling %d", len(got.Data), p.MaxBytes())
	}
	if got.OriginalSize != len(raw) {
		t.Fatalf("OriginalSize = %d, want %d", got.OriginalSize, len(raw))
	}
	if _, err := jpeg.Decode(bytes.NewReader(got.Data)); err != nil {
		t.Fatalf("prepared payload is not a jpeg: %v", err)
	}
}

func TestPrepareFailsWhenImageCannotShrinkEnough(t *testing.T) {
	raw := encodePNG(t, noiseImage(256, 256, 5))
	p := NewPreparer(Options{MaxBytes: 64, MaxReencodes: 5})

	if _, err := p.Prepare(raw, "image/png"); !errors.Is(err, domain.ErrImageTooLarge) {
		t.Fatalf("error = %v, want ErrImageTooLarge", err)
	}
}

// withDeclaredSize rewrites the IHDR dimensions of a PNG, keeping its CRC valid.
func withDeclaredSize(t *testing.T, raw []byte, width, height uint32) []byte {
	t.Helper()
	out := append([]byte(nil), raw...)
	if len(out) < 33 || string(out[12:16]) != "IHDR" {
		t.Fatalf("fixture has no leading IHDR chunk")
	}
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestPrepareRejectsHugeDeclaredDimensionsBeforeDecode(t *testing.T) {
	raw := withDeclaredSize(t, encodePNG(t, noiseImage(8, 8, 6)), 40000, 40000)
	p := NewPreparer(Options{})

	_, err := p.Prepare(raw, "image/png")
	if !errors.Is(err, domain.ErrImageTooLarge) {
		t.Fatalf("error = %v, want ErrImageTooLarge", err)
	}
	if domain.Classify(err) != domain.ClassClientInput {
		t.Fatalf("class = %s, want client_input", domain.Classify(err))
	}
}

func TestPrepareHonoursPixelCeiling(t *testing.T) {
	raw := encodeJPEG(t, noiseImage(64, 64, 7))

	if _, err := NewPreparer(Options{MaxPixels: 64*64 - 1}).Prepare(raw, ""); !errors.Is(err, domain.ErrImageTooLarge) {
		t.Fatalf("error = %v, want ErrImageTooLarge", err)
	}
	if _, err := NewPreparer(Options{MaxPixels: 64 * 64}).Prepare(raw, ""); err != nil {
		t.Fatalf("image at the ceiling rejected: %v", err)
	}
}

func TestDataURL(t *testing.T) {
	img := domain.PreparedImage{Data: []byte{1, 2, 3}, MIMEType: domain.MIMEPNG}
	if got, want := img.DataURL(), "data:image/png;base64,AQID"; got != want {
		t.Fatalf("DataURL() = %q, want %q", got, want)
	}
}
