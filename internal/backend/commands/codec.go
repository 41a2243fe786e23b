package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ContentTypePNG is the canonical encoding every stored image is normalized to.
const ContentTypePNG = "image/png"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// hasCorrectPngSignature checks whether the provided data begins with a valid PNG signature
func hasCorrectPngSignature(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// Metadata describes an encoded image without decoding its pixels.
type Metadata struct {
	Width  int
	Height int
	Format string
}

// DecodeMetadata reads the image header of data.
func DecodeMetadata(data []byte) (*Metadata, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image metadata: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("image reports invalid dimensions %dx%d", config.Width, config.Height)
	}
	return &Metadata{
		Width:  config.Width,
		Height: config.Height,
		Format: format,
	}, nil
}

func decodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// rough heuristic: 1 byte per pixel
	buf.Grow(bb.Dx() * bb.Dy())
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// rasterizeIfSVG renders SVG input to PNG so raster-only steps can run on it.
// Any other input is returned unchanged.
func rasterizeIfSVG(data []byte) ([]byte, error) {
	if !isSVGData(data) {
		return data, nil
	}
	return NewPngConverterCommandDirect().convertSVG(data)
}
