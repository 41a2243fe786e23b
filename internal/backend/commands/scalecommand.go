package commands

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/jo-hoe/goannotate/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

// ScaleParams bounds the stored image size. A zero bound leaves that axis unconstrained.
type ScaleParams struct {
	MaxWidth  int
	MaxHeight int
}

// NewScaleParamsFromMap creates ScaleParams from a generic map
func NewScaleParamsFromMap(params map[string]any) (*ScaleParams, error) {
	maxWidth := commandstructure.GetIntParam(params, "maxWidth", 0)
	maxHeight := commandstructure.GetIntParam(params, "maxHeight", 0)

	if maxWidth < 0 || maxHeight < 0 {
		return nil, fmt.Errorf("maxWidth and maxHeight must not be negative, got %dx%d", maxWidth, maxHeight)
	}
	if maxWidth == 0 && maxHeight == 0 {
		return nil, fmt.Errorf("at least one of maxWidth or maxHeight is required")
	}

	return &ScaleParams{
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
	}, nil
}

// ScaleCommand shrinks images that exceed the configured bounds, keeping the aspect ratio.
// Images already within bounds pass through untouched.
type ScaleCommand struct {
	name   string
	params *ScaleParams
}

func NewScaleCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewScaleParamsFromMap(params)
	if err != nil {
		return nil, err
	}

	return &ScaleCommand{
		name:   "ScaleCommand",
		params: typedParams,
	}, nil
}

func (c *ScaleCommand) Name() string {
	return c.name
}

func (c *ScaleCommand) Execute(imageData []byte) ([]byte, error) {
	imageData, err := rasterizeIfSVG(imageData)
	if err != nil {
		return nil, err
	}

	meta, err := DecodeMetadata(imageData)
	if err != nil {
		return nil, err
	}

	targetW, targetH := computeBoundedDimensions(meta.Width, meta.Height, c.params.MaxWidth, c.params.MaxHeight)
	if targetW == meta.Width && targetH == meta.Height {
		slog.Debug("ScaleCommand: image within bounds; no scaling", "width", meta.Width, "height", meta.Height)
		return imageData, nil
	}

	img, _, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	slog.Debug("ScaleCommand: scaling image",
		"orig_width", meta.Width,
		"orig_height", meta.Height,
		"target_width", targetW,
		"target_height", targetH)

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return encodePNG(dst)
}

// computeBoundedDimensions returns the largest size within the bounds that keeps the aspect ratio.
// It never upscales and never returns a zero dimension.
func computeBoundedDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = min(scale, float64(maxWidth)/float64(width))
	}
	if maxHeight > 0 && height > maxHeight {
		scale = min(scale, float64(maxHeight)/float64(height))
	}
	if scale == 1.0 {
		return width, height
	}
	return max(1, int(float64(width)*scale+0.5)), max(1, int(float64(height)*scale+0.5))
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("ScaleCommand", NewScaleCommand); err != nil {
		panic(fmt.Sprintf("failed to register ScaleCommand: %v", err))
	}
}
