package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/google/uuid"
)

// ScreenshotCapture produces a checkpoint artifact.
type ScreenshotCapture interface {
	Capture(ctx context.Context) (model.Artifact, error)
}

// CaptureFunc adapts a function to ScreenshotCapture.
type CaptureFunc func(ctx context.Context) (model.Artifact, error)

// Capture calls f.
func (f CaptureFunc) Capture(ctx context.Context) (model.Artifact, error) {
	return f(ctx)
}

// PlaceholderCapture renders a small synthetic PNG instead of a real screen
// grab. The shade changes with the capture time so consecutive artifacts
// differ.
type PlaceholderCapture struct {
	Clock  clock.Clock
	Width  int
	Height int
}

// Capture renders the placeholder image.
func (p PlaceholderCapture) Capture(ctx context.Context) (model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return model.Artifact{}, err
	}

	width, height := p.Width, p.Height
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 36
	}

	now := p.Clock.Now()
	shade := uint8(now.Unix() % 256)

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: shade ^ uint8(x+y)})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return model.Artifact{}, fmt.Errorf("encode placeholder: %w", err)
	}

	return model.Artifact{
		ID:          uuid.NewString(),
		CapturedAt:  now,
		ContentType: "image/png",
		Data:        buf.Bytes(),
	}, nil
}
