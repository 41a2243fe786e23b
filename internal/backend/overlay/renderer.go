package overlay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// FallbackWidth and FallbackHeight size the canvas when the source dimensions are unknown.
	FallbackWidth  = 1024
	FallbackHeight = 768

	DefaultStrokeColor = "red"
	DefaultStrokeWidth = 4.0
	DefaultTextColor   = "green"
	DefaultFontSize    = 24.0
	DefaultTextX       = 20.0
	DefaultTextY       = 20.0

	// MinStrokePoints is the smallest number of points a stroke needs to be painted.
	MinStrokePoints = 2
)

var (
	textEscaper      = strings.NewReplacer("&", "&amp;", "<", "&lt;")
	attributeEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;")
)

// Overlay is a rendered SVG document together with what ended up in it.
type Overlay struct {
	Width  int
	Height int
	Paths  int
	Texts  int
	SVG    []byte
}

// IsEmpty reports whether the overlay paints nothing.
func (o *Overlay) IsEmpty() bool {
	return o.Paths == 0 && o.Texts == 0
}

// Render turns request into an SVG overlay with a width x height coordinate frame.
// Strokes are emitted before texts, each group in request order.
func Render(width, height int, request *Request) *Overlay {
	if width <= 0 || height <= 0 {
		width, height = FallbackWidth, FallbackHeight
	}
	if request == nil {
		request = &Request{}
	}

	result := &Overlay{Width: width, Height: height}
	// nothing wider or taller than the canvas can add visible ink
	maxExtent := float64(max(width, height))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		width, height, width, height)
	buf.WriteByte('\n')

	for _, stroke := range request.Strokes {
		if len(stroke.Points) < MinStrokePoints {
			continue
		}
		writePath(&buf, stroke, maxExtent)
		result.Paths++
	}
	for _, label := range request.Texts {
		label.Text = stripInvalidXMLChars(label.Text)
		if label.Text == "" {
			continue
		}
		writeText(&buf, label, maxExtent)
		result.Texts++
	}

	buf.WriteString("</svg>\n")
	result.SVG = buf.Bytes()
	return result
}

func writePath(buf *bytes.Buffer, stroke Stroke, maxWidth float64) {
	var d strings.Builder
	for i, p := range stroke.Points {
		if i == 0 {
			d.WriteString("M ")
		} else {
			d.WriteString(" L ")
		}
		d.WriteString(formatNumber(p.X))
		d.WriteByte(' ')
		d.WriteString(formatNumber(p.Y))
	}

	fmt.Fprintf(buf, `<path d="%s" fill="none" stroke="%s" stroke-width="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
		d.String(), attributeEscaper.Replace(stroke.StrokeColor()), formatNumber(min(stroke.StrokeWidth(), maxWidth)))
	buf.WriteByte('\n')
}

func writeText(buf *bytes.Buffer, label TextLabel, maxSize float64) {
	x, y := label.Position()
	fmt.Fprintf(buf, `<text x="%s" y="%s" fill="%s" font-size="%s" font-family="sans-serif">%s</text>`,
		formatNumber(x), formatNumber(y), attributeEscaper.Replace(label.FillColor()),
		formatNumber(min(label.Size(), maxSize)), EscapeText(label.Text))
	buf.WriteByte('\n')
}

// EscapeText escapes the characters that would break SVG character data.
// Characters XML cannot carry at all are dropped.
func EscapeText(s string) string {
	return textEscaper.Replace(stripInvalidXMLChars(s))
}

// stripInvalidXMLChars removes runes outside the XML 1.0 Char production.
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s)
}

func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

// StrokeColor returns the stroke color or the default.
func (s Stroke) StrokeColor() string {
	if s.Color == "" {
		return DefaultStrokeColor
	}
	return s.Color
}

// StrokeWidth returns the line width or the default.
func (s Stroke) StrokeWidth() float64 {
	if s.Width <= 0 {
		return DefaultStrokeWidth
	}
	return s.Width
}

// Position returns the label anchor, substituting defaults for absent coordinates.
func (t TextLabel) Position() (float64, float64) {
	x, y := DefaultTextX, DefaultTextY
	if t.X != nil {
		x = *t.X
	}
	if t.Y != nil {
		y = *t.Y
	}
	return x, y
}

func (t TextLabel) FillColor() string {
	if t.Color == "" {
		return DefaultTextColor
	}
	return t.Color
}

func (t TextLabel) Size() float64 {
	if t.FontSize <= 0 {
		return DefaultFontSize
	}
	return t.FontSize
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
