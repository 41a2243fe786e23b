package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
)

// ErrMalformedRequest is returned when the annotation body is not a JSON object.
var ErrMalformedRequest = errors.New("malformed annotation request")

// Point is a canvas coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a polyline drawn through Points in order.
// Zero values for Color and Width mean "use the default".
type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
}

// TextLabel is a single line of text anchored at its baseline.
// X and Y are pointers because 0 is a valid coordinate and absence means default.
type TextLabel struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Text     string   `json:"text"`
	Color    string   `json:"color,omitempty"`
	FontSize float64  `json:"fontSize,omitempty"`
}

// Request is the ordered list of strokes and texts to paint. Earlier entries are painted first.
type Request struct {
	Strokes []Stroke    `json:"strokes"`
	Texts   []TextLabel `json:"texts"`
}

// ParseRequest decodes an annotation body leniently. Only a body that is not a JSON object is
// rejected; every other shape problem degrades to defaults or to an omitted entry.
func ParseRequest(body []byte) (*Request, error) {
	request := &Request{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return request, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	for _, raw := range rawArray(fields["strokes"]) {
		stroke, ok := parseStroke(raw)
		if !ok {
			continue
		}
		request.Strokes = append(request.Strokes, stroke)
	}
	for _, raw := range rawArray(fields["texts"]) {
		label, ok := parseTextLabel(raw)
		if !ok {
			continue
		}
		request.Texts = append(request.Texts, label)
	}

	return request, nil
}

func parseStroke(raw json.RawMessage) (Stroke, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Stroke{}, false
	}

	stroke := Stroke{
		Color: rawColor(fields["color"]),
		Width: rawPositive(fields["width"]),
	}
	for _, rawPoint := range rawArray(fields["points"]) {
		var coords map[string]json.RawMessage
		if err := json.Unmarshal(rawPoint, &coords); err != nil {
			continue
		}
		x, xOk := rawNumber(coords["x"])
		y, yOk := rawNumber(coords["y"])
		if !xOk || !yOk {
			continue
		}
		stroke.Points = append(stroke.Points, Point{X: x, Y: y})
	}
	return stroke, true
}

func parseTextLabel(raw json.RawMessage) (TextLabel, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return TextLabel{}, false
	}

	label := TextLabel{
		Color:    rawColor(fields["color"]),
		FontSize: rawPositive(fields["fontSize"]),
	}
	if x, ok := rawNumber(fields["x"]); ok {
		label.X = &x
	}
	if y, ok := rawNumber(fields["y"]); ok {
		label.Y = &y
	}
	var text string
	if err := json.Unmarshal(fields["text"], &text); err == nil {
		label.Text = text
	}
	return label, true
}

// rawArray returns the elements of raw, or nil if raw is absent or not an array.
func rawArray(raw json.RawMessage) []json.RawMessage {
	if raw == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	if raw == nil || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func rawPositive(raw json.RawMessage) float64 {
	v, ok := rawNumber(raw)
	if !ok || v <= 0 || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// rawColor keeps a color only if the SVG rasterizer can paint it.
func rawColor(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var c string
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	c = strings.TrimSpace(c)
	if c == "" {
		return ""
	}
	if _, err := oksvg.ParseSVGColor(c); err != nil {
		return ""
	}
	return c
}
