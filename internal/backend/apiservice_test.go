package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jo-hoe/goannotate/internal/core"
	"github.com/labstack/echo/v4"
)

const testConfigYAML = `database:
  type: sqlite
  connectionString: ":memory:"
`

type testServer struct {
	echo *echo.Echo
	core *core.CoreService
}

func newTestServer(t *testing.T, configYAML string) *testServer {
	t.Helper()
	config, err := core.ParseConfig([]byte(configYAML))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	coreService, err := core.NewCoreService(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = coreService.Close() })

	e := NewServer(config)
	NewAPIService(config, coreService, nil).SetRoutes(e)
	return &testServer{echo: e, core: coreService}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func whitePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, method, target, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if field != "" {
		part, err := writer.CreateFormFile(field, "upload.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
}

func (s *testServer) upload(t *testing.T, data []byte) imageRefResponse {
	t.Helper()
	rec := s.do(multipartRequest(t, http.MethodPost, "/images", ImageFormField, data))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var ref imageRefResponse
	decodeBody(t, rec, &ref)
	return ref
}

func (s *testServer) raw(t *testing.T, url string) image.Image {
	t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", url, rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Fatalf("GET %s: expected image/png, got %q", url, ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("GET %s: body is not a PNG: %v", url, err)
	}
	return img
}

func TestUploadAndFetchRaw(t *testing.T) {
	s := newTestServer(t, testConfigYAML)

	ref := s.upload(t, whitePNG(t, 100, 100))
	if ref.ID <= 0 || ref.URL != fmt.Sprintf("/images/%d/raw", ref.ID) {
		t.Fatalf("unexpected upload response %+v", ref)
	}

	img := s.raw(t, ref.URL)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 100 {
		t.Errorf("expected 100x100, got %v", img.Bounds())
	}
}

func TestAnnotate_UnknownSource(t *testing.T) {
	s := newTestServer(t, testConfigYAML)

	rec := s.do(jsonRequest(http.MethodPost, "/images/9999/annotate", `{"strokes": [], "texts": []}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Message != "Image not found" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestAnnotate_SinglePointStrokeKeepsPixels(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	source := s.upload(t, whitePNG(t, 50, 40))

	rec := s.do(jsonRequest(http.MethodPost, fmt.Sprintf("/images/%d/annotate", source.ID),
		`{"strokes": [{"points": [{"x": 0, "y": 0}]}], "texts": []}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result annotationResponse
	decodeBody(t, rec, &result)
	if result.ID == source.ID || result.OriginalImageID != source.ID {
		t.Fatalf("unexpected annotation response %+v", result)
	}

	original := s.raw(t, source.URL)
	derived := s.raw(t, result.URL)
	if original.Bounds() != derived.Bounds() {
		t.Fatalf("bounds differ: %v vs %v", original.Bounds(), derived.Bounds())
	}
	for y := 0; y < original.Bounds().Dy(); y++ {
		for x := 0; x < original.Bounds().Dx(); x++ {
			if color.RGBAModel.Convert(original.At(x, y)) != color.RGBAModel.Convert(derived.At(x, y)) {
				t.Fatalf("pixel %d,%d differs", x, y)
			}
		}
	}
}

func TestAnnotate_PaintsStroke(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	source := s.upload(t, whitePNG(t, 40, 40))

	rec := s.do(jsonRequest(http.MethodPost, fmt.Sprintf("/images/%d/annotate", source.ID),
		`{"strokes": [{"points": [{"x": 0, "y": 20}, {"x": 40, "y": 20}], "color": "#0000ff", "width": 8}]}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result annotationResponse
	decodeBody(t, rec, &result)

	got := color.RGBAModel.Convert(s.raw(t, result.URL).At(20, 20)).(color.RGBA)
	if got.B < 200 || got.R > 60 || got.G > 60 {
		t.Errorf("expected blue on the stroke, got %v", got)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	source := s.upload(t, whitePNG(t, 10, 10))

	tests := []struct {
		name            string
		request         *http.Request
		expectedMessage string
	}{
		{name: "non numeric id", request: httptest.NewRequest(http.MethodGet, "/images/abc/raw", nil), expectedMessage: "Invalid image id"},
		{name: "zero id", request: httptest.NewRequest(http.MethodGet, "/images/0/raw", nil), expectedMessage: "Invalid image id"},
		{name: "negative id", request: jsonRequest(http.MethodPost, "/images/-3/annotate", "{}"), expectedMessage: "Invalid image id"},
		{name: "upload without file", request: multipartRequest(t, http.MethodPost, "/images", "", nil), expectedMessage: "Missing image file"},
		{name: "upload wrong field", request: multipartRequest(t, http.MethodPost, "/images", "file", []byte("x")), expectedMessage: "Missing image file"},
		{name: "upload not an image", request: multipartRequest(t, http.MethodPost, "/images", ImageFormField, []byte("hello")), expectedMessage: "Invalid image file"},
		{name: "replace not an image", request: multipartRequest(t, http.MethodPut, fmt.Sprintf("/images/%d", source.ID), ImageFormField, []byte("hello")), expectedMessage: "Invalid image file"},
		{name: "annotation not an object", request: jsonRequest(http.MethodPost, fmt.Sprintf("/images/%d/annotate", source.ID), "[1, 2]"), expectedMessage: "Annotation body must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.request)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
			}
			var body errorResponse
			decodeBody(t, rec, &body)
			if body.Message != tt.expectedMessage {
				t.Errorf("expected message %q, got %q", tt.expectedMessage, body.Message)
			}
		})
	}
}

func TestGetRaw_NotFound(t *testing.T) {
	s := newTestServer(t, testConfigYAML)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/images/42/raw", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReplace(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	ref := s.upload(t, whitePNG(t, 10, 10))

	rec := s.do(multipartRequest(t, http.MethodPut, fmt.Sprintf("/images/%d", ref.ID), ImageFormField, whitePNG(t, 20, 5)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body replaceResponse
	decodeBody(t, rec, &body)
	if body.ID != ref.ID || body.URL != ref.URL || !body.Updated {
		t.Errorf("unexpected replace response %+v", body)
	}
	if img := s.raw(t, ref.URL); img.Bounds().Dx() != 20 || img.Bounds().Dy() != 5 {
		t.Errorf("expected replaced 20x5 image, got %v", img.Bounds())
	}

	rec = s.do(multipartRequest(t, http.MethodPut, "/images/999", ImageFormField, whitePNG(t, 2, 2)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing image, got %d", rec.Code)
	}
}

func TestGetImageInfo(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	ref := s.upload(t, whitePNG(t, 12, 7))

	rec := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/images/%d", ref.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info imageInfoResponse
	decodeBody(t, rec, &info)
	if info.Width != 12 || info.Height != 7 || info.ContentType != "image/png" || info.URL != ref.URL {
		t.Errorf("unexpected info %+v", info)
	}
	if info.OriginalName == nil || *info.OriginalName != "upload.png" || info.OriginalImageID != nil {
		t.Errorf("unexpected name or parent in %+v", info)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfigYAML)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.DB != "up" {
		t.Errorf("unexpected health body %+v", body)
	}

	_ = s.core.Close()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after the store is closed, got %d", rec.Code)
	}
	decodeBody(t, rec, &body)
	if body.Status != "unavailable" || body.DB != "down" {
		t.Errorf("unexpected health body %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	s.upload(t, whitePNG(t, 3, 3))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `goannotate_http_requests_total{method="POST",route="/images",status="201"} 1`) {
		t.Errorf("expected upload to be counted, got:\n%s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, testConfigYAML)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/nothing/here", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Message == "" {
		t.Error("expected a message in the error body")
	}
}

func TestAnnotate_ControlCharacterInText(t *testing.T) {
	s := newTestServer(t, testConfigYAML)
	source := s.upload(t, whitePNG(t, 50, 50))

	rec := s.do(jsonRequest(http.MethodPost, fmt.Sprintf("/images/%d/annotate", source.ID),
		`{"texts": [{"text": "a\u0001b"}]}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
}
