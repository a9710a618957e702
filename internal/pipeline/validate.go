package pipeline

import (
	"bytes"
	"encoding/base64"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"adstudio/internal/domain"
)

// Accepted range for the product size factor, inclusive on both ends.
const (
	MinProductSize = 0.2
	MaxProductSize = 0.6
)

// ImageLimits caps the decoded dimensions of an uploaded image. Headers are
// checked before any pixel data is decoded.
type ImageLimits struct {
	MaxSide   int
	MaxPixels int
}

// DefaultImageLimits is used when a limit is left at zero.
var DefaultImageLimits = ImageLimits{MaxSide: 8192, MaxPixels: 40_000_000}

func (l ImageLimits) withDefaults() ImageLimits {
	if l.MaxSide <= 0 {
		l.MaxSide = DefaultImageLimits.MaxSide
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultImageLimits.MaxPixels
	}
	return l
}

// RawRequest is the inbound JSON body before validation.
type RawRequest struct {
	ImageData   string   `json:"imageData"`
	Prompt      string   `json:"prompt"`
	ProductSize *float64 `json:"productSize"`
}

// Validate checks the raw request and decodes its image. It performs no I/O
// and returns a *domain.ValidationError naming the first field that failed.
func Validate(raw RawRequest) (*domain.ImageRequest, error) {
	return ValidateWithLimits(raw, DefaultImageLimits)
}

// ValidateWithLimits is Validate with explicit image dimension caps.
func ValidateWithLimits(raw RawRequest, limits ImageLimits) (*domain.ImageRequest, error) {
	if strings.TrimSpace(raw.ImageData) == "" {
		return nil, invalid("imageData", "is required")
	}
	prompt := strings.TrimSpace(raw.Prompt)
	if prompt == "" {
		return nil, invalid("prompt", "is required")
	}
	if raw.ProductSize == nil {
		return nil, invalid("productSize", "is required")
	}
	size := *raw.ProductSize
	if size < MinProductSize || size > MaxProductSize {
		return nil, invalid("productSize", "must be between 0.2 and 0.6")
	}
	data, err := decodeImage(raw.ImageData, limits.withDefaults())
	if err != nil {
		return nil, err
	}
	return &domain.ImageRequest{
		ImageData:         data,
		ImageContentType:  "image/png",
		Prompt:            prompt,
		ProductSizeFactor: size,
	}, nil
}

// decodeImage parses a base64 image data URI and re-encodes the picture as
// PNG, which is what the inpainting model expects.
func decodeImage(dataURI string, limits ImageLimits) ([]byte, error) {
	dataURI = strings.TrimSpace(dataURI)
	if !strings.HasPrefix(strings.ToLower(dataURI), "data:") {
		return nil, invalid("imageData", "must be a data URI")
	}
	meta, payload, ok := strings.Cut(dataURI[len("data:"):], ",")
	if !ok {
		return nil, invalid("imageData", "must be a data URI")
	}
	params := strings.Split(strings.ToLower(meta), ";")
	if !strings.HasPrefix(strings.TrimSpace(params[0]), "image/") {
		return nil, invalid("imageData", "must contain an image")
	}
	base64Encoded := false
	for _, p := range params[1:] {
		if strings.TrimSpace(p) == "base64" {
			base64Encoded = true
		}
	}
	if !base64Encoded {
		return nil, invalid("imageData", "must be base64 encoded")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, invalid("imageData", "is not valid base64")
		}
	}
	if len(raw) == 0 {
		return nil, invalid("imageData", "is empty")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, invalid("imageData", "is not a decodable image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, invalid("imageData", "has no pixels")
	}
	if cfg.Width > limits.MaxSide || cfg.Height > limits.MaxSide || cfg.Width*cfg.Height > limits.MaxPixels {
		return nil, invalid("imageData", "dimensions too large")
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, invalid("imageData", "is not a decodable image")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, invalid("imageData", "could not be normalized")
	}
	return buf.Bytes(), nil
}

func invalid(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}
