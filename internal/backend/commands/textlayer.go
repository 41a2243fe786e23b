package commands

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"

	"github.com/srwiley/oksvg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// The SVG rasterizer ignores <text>, so labels are painted separately with the Go Regular face.
var regularFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

type textElement struct {
	x, y     float64
	fontSize float64
	fill     string
	content  string
}

// parseTextElements collects every <text> element of an SVG document in document order.
func parseTextElements(svg []byte) ([]textElement, error) {
	decoder := xml.NewDecoder(bytes.NewReader(svg))

	var elements []textElement
	var current *textElement
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch tok := token.(type) {
		case xml.StartElement:
			if tok.Name.Local != "text" {
				continue
			}
			element, err := textElementFromAttrs(tok.Attr)
			if err != nil {
				return nil, err
			}
			current = &element
		case xml.CharData:
			if current != nil {
				current.content += string(tok)
			}
		case xml.EndElement:
			if tok.Name.Local == "text" && current != nil {
				elements = append(elements, *current)
				current = nil
			}
		}
	}
	return elements, nil
}

func textElementFromAttrs(attrs []xml.Attr) (textElement, error) {
	element := textElement{fontSize: 16, fill: "black"}
	for _, attr := range attrs {
		var err error
		switch attr.Name.Local {
		case "x":
			element.x, err = strconv.ParseFloat(attr.Value, 64)
		case "y":
			element.y, err = strconv.ParseFloat(attr.Value, 64)
		case "font-size":
			element.fontSize, err = strconv.ParseFloat(attr.Value, 64)
		case "fill":
			element.fill = attr.Value
		}
		if err != nil {
			return element, fmt.Errorf("invalid text attribute %s=%q: %w", attr.Name.Local, attr.Value, err)
		}
	}
	if element.fontSize <= 0 {
		return element, fmt.Errorf("invalid font size %v", element.fontSize)
	}
	return element, nil
}

// drawTextElements paints each label onto layer with its baseline at (x, y).
func drawTextElements(layer *image.RGBA, elements []textElement) error {
	if len(elements) == 0 {
		return nil
	}
	f, err := regularFont()
	if err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}

	for _, element := range elements {
		fill, err := oksvg.ParseSVGColor(element.fill)
		if err != nil {
			return fmt.Errorf("invalid text color %q: %w", element.fill, err)
		}
		if fill == nil {
			// fill="none"
			continue
		}

		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    element.fontSize,
			DPI:     72,
			Hinting: font.HintingNone,
		})
		if err != nil {
			return fmt.Errorf("failed to create font face: %w", err)
		}

		drawer := &font.Drawer{
			Dst:  layer,
			Src:  image.NewUniform(fill),
			Face: face,
			Dot: fixed.Point26_6{
				X: fixed.Int26_6(element.x * 64),
				Y: fixed.Int26_6(element.y * 64),
			},
		}
		drawer.DrawString(element.content)
		_ = face.Close()
	}
	return nil
}
