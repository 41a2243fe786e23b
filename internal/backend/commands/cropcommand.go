package commands

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/jo-hoe/goannotate/internal/backend/commandstructure"
)

// CropParams is the largest region kept by a center crop.
type CropParams struct {
	Height int
	Width  int
}

// NewCropParamsFromMap creates CropParams from a generic map
func NewCropParamsFromMap(params map[string]any) (*CropParams, error) {
	if err := commandstructure.ValidateRequiredParams(params, []string{"height", "width"}); err != nil {
		return nil, err
	}

	height := commandstructure.GetIntParam(params, "height", 0)
	width := commandstructure.GetIntParam(params, "width", 0)
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("crop size must be positive, got %dx%d", width, height)
	}

	return &CropParams{
		Height: height,
		Width:  width,
	}, nil
}

// CropCommand center-crops uploads that exceed the configured region.
// An axis already within bounds is left as is.
type CropCommand struct {
	name   string
	params *CropParams
}

func NewCropCommand(params map[string]any) (commandstructure.Command, error) {
	typedParams, err := NewCropParamsFromMap(params)
	if err != nil {
		return nil, err
	}

	return &CropCommand{
		name:   "CropCommand",
		params: typedParams,
	}, nil
}

func (c *CropCommand) Name() string {
	return c.name
}

func (c *CropCommand) Execute(imageData []byte) ([]byte, error) {
	imageData, err := rasterizeIfSVG(imageData)
	if err != nil {
		return nil, err
	}

	meta, err := DecodeMetadata(imageData)
	if err != nil {
		return nil, err
	}

	region := centerRegion(meta.Width, meta.Height, c.params.Width, c.params.Height)
	if region.Dx() == meta.Width && region.Dy() == meta.Height {
		slog.Debug("CropCommand: image within crop region; no crop", "width", meta.Width, "height", meta.Height)
		return imageData, nil
	}

	img, _, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	slog.Debug("CropCommand: center crop",
		"orig_width", meta.Width,
		"orig_height", meta.Height,
		"crop_x", region.Min.X,
		"crop_y", region.Min.Y,
		"crop_width", region.Dx(),
		"crop_height", region.Dy())

	cropped := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, img.Bounds().Min.Add(region.Min), draw.Src)
	return encodePNG(cropped)
}

// centerRegion returns the centered maxWidth x maxHeight window of a width x height image,
// clamped to the image.
func centerRegion(width, height, maxWidth, maxHeight int) image.Rectangle {
	cropWidth := min(width, maxWidth)
	cropHeight := min(height, maxHeight)
	x0 := (width - cropWidth) / 2
	y0 := (height - cropHeight) / 2
	return image.Rect(x0, y0, x0+cropWidth, y0+cropHeight)
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("CropCommand", NewCropCommand); err != nil {
		panic(fmt.Sprintf("failed to register CropCommand: %v", err))
	}
}
