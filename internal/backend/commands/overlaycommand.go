package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// OverlayCommand composites an SVG overlay over the input image and encodes the result as PNG.
// The overlay is rasterized into a transparent layer of the input's size, so uncovered
// regions leave the input pixels unchanged.
type OverlayCommand struct {
	name    string
	overlay []byte
}

func NewOverlayCommand(overlaySVG []byte) *OverlayCommand {
	return &OverlayCommand{
		name:    "OverlayCommand",
		overlay: overlaySVG,
	}
}

func (c *OverlayCommand) Name() string {
	return c.name
}

func (c *OverlayCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := decodeImage(imageData)
	if err != nil {
		slog.Error("OverlayCommand: failed to decode base image", "error", err)
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	icon, err := oksvg.ReadIconStream(bytes.NewReader(c.overlay), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay: %w", err)
	}
	labels, err := parseTextElements(c.overlay)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay text: %w", err)
	}

	slog.Debug("OverlayCommand: compositing",
		"base_format", format,
		"width", width,
		"height", height,
		"paths", len(icon.SVGPaths),
		"texts", len(labels))

	if len(icon.SVGPaths) == 0 && len(labels) == 0 {
		return encodePNG(img)
	}

	layer := image.NewRGBA(image.Rect(0, 0, width, height))
	icon.SetTarget(0, 0, float64(width), float64(height))
	scanner := rasterx.NewScannerGV(width, height, layer, layer.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)

	if err := drawTextElements(layer, labels); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), layer, image.Point{}, draw.Over)

	return encodePNG(canvas)
}
