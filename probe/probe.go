// Package probe reports pixel dimensions and size of fetched image bytes.
package probe

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	_ "golang.org/x/image/webp"

	"github.com/aluiziolira/go-fetch-images/models"
)

// Metadata describes a decoded image.
type Metadata struct {
	Resolution string
	SizeBytes  int64
	Format     string
}

// Probe decodes the image header. Decode failures degrade to an unknown
// resolution; SizeBytes is always len(data).
func Probe(data []byte) Metadata {
	meta := Metadata{
		Resolution: models.UnknownResolution,
		SizeBytes:  int64(len(data)),
	}
	if len(data) == 0 {
		return meta
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Debug("decode image config", slog.Int("bytes", len(data)), slog.Any("error", err))
		return meta
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return meta
	}

	meta.Resolution = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	meta.Format = format
	return meta
}
