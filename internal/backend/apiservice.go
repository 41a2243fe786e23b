package backend

import (
	"errors"
	"io"
	"net/http"

	"github.com/jo-hoe/goannotate/internal/backend/overlay"
	"github.com/jo-hoe/goannotate/internal/core"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ImageFormField is the multipart field that carries the uploaded file.
const ImageFormField = "image"

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
	registry    *prometheus.Registry
}

type imageRefResponse struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type replaceResponse struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	Updated bool   `json:"updated"`
}

type annotationResponse struct {
	ID              int64  `json:"id"`
	URL             string `json:"url"`
	OriginalImageID int64  `json:"originalImageId"`
}

type imageInfoResponse struct {
	ID              int64   `json:"id"`
	URL             string  `json:"url"`
	ContentType     string  `json:"contentType"`
	OriginalName    *string `json:"originalName"`
	OriginalImageID *int64  `json:"originalImageId"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// imagePath binds the {id} path segment.
type imagePath struct {
	ID int64 `param:"id" validate:"min=1"`
}

// NewAPIService creates the HTTP surface. Request metrics and /metrics use registry;
// a nil registry gets a fresh one.
func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService, registry *prometheus.Registry) *APIService {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &APIService{
		config:      config,
		coreService: coreService,
		registry:    registry,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.Use(newHTTPMetrics(s.registry).middleware("/metrics"))

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	var readAuth, writeAuth []echo.MiddlewareFunc
	if s.config.Auth.Enabled {
		authenticator := NewAuthenticator(s.config.Auth.Secret)
		readAuth = append(readAuth, authenticator.RequireRoles(s.config.Auth.ReadRoles))
		writeAuth = append(writeAuth, authenticator.RequireRoles(s.config.Auth.WriteRoles))
	}

	read := e.Group("/images", readAuth...)
	read.GET("/:id", s.getImageInfoHandler)
	read.GET("/:id/raw", s.getRawImageHandler)

	write := e.Group("/images", writeAuth...)
	write.POST("", s.uploadImageHandler)
	write.PUT("/:id", s.replaceImageHandler)
	write.POST("/:id/annotate", s.annotateImageHandler)
}

func (s *APIService) healthHandler(ctx echo.Context) error {
	if err := s.coreService.Health(ctx.Request().Context()); err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", DB: "down"})
	}
	return ctx.JSON(http.StatusOK, healthResponse{Status: "ok", DB: "up"})
}

func (s *APIService) uploadImageHandler(ctx echo.Context) error {
	data, name, err := readImageFile(ctx)
	if err != nil {
		return err
	}

	ref, err := s.coreService.AddImage(ctx.Request().Context(), data, name)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, imageRefResponse{ID: ref.ID, URL: ref.URL})
}

func (s *APIService) getRawImageHandler(ctx echo.Context) error {
	id, err := bindImageID(ctx)
	if err != nil {
		return err
	}

	image, err := s.coreService.GetImage(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.Blob(http.StatusOK, image.ContentType, image.Data)
}

func (s *APIService) getImageInfoHandler(ctx echo.Context) error {
	id, err := bindImageID(ctx)
	if err != nil {
		return err
	}

	info, err := s.coreService.GetImageInfo(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, imageInfoResponse{
		ID:              info.ID,
		URL:             info.URL,
		ContentType:     info.ContentType,
		OriginalName:    info.OriginalName,
		OriginalImageID: info.OriginalImageID,
		Width:           info.Width,
		Height:          info.Height,
	})
}

func (s *APIService) replaceImageHandler(ctx echo.Context) error {
	id, err := bindImageID(ctx)
	if err != nil {
		return err
	}
	data, name, err := readImageFile(ctx)
	if err != nil {
		return err
	}

	ref, err := s.coreService.ReplaceImage(ctx.Request().Context(), id, data, name)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, replaceResponse{ID: ref.ID, URL: ref.URL, Updated: true})
}

func (s *APIService) annotateImageHandler(ctx echo.Context) error {
	id, err := bindImageID(ctx)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return core.NewError(core.KindInvalidInput, "Failed to read request body", err)
	}
	request, err := overlay.ParseRequest(body)
	if errors.Is(err, overlay.ErrMalformedRequest) {
		return core.NewError(core.KindInvalidInput, "Annotation body must be a JSON object", err)
	}
	if err != nil {
		return err
	}

	result, err := s.coreService.AnnotateImage(ctx.Request().Context(), id, request)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, annotationResponse{
		ID:              result.ID,
		URL:             result.URL,
		OriginalImageID: result.OriginalImageID,
	})
}

func bindImageID(ctx echo.Context) (int64, error) {
	var path imagePath
	if err := (&echo.DefaultBinder{}).BindPathParams(ctx, &path); err != nil {
		return 0, core.NewError(core.KindInvalidInput, "Invalid image id", err)
	}
	if err := ctx.Validate(&path); err != nil {
		return 0, core.NewError(core.KindInvalidInput, "Invalid image id", err)
	}
	return path.ID, nil
}

// readImageFile returns the bytes and file name of the uploaded image.
func readImageFile(ctx echo.Context) ([]byte, *string, error) {
	header, err := ctx.FormFile(ImageFormField)
	if err != nil {
		return nil, nil, core.NewError(core.KindInvalidInput, "Missing image file", err)
	}
	file, err := header.Open()
	if err != nil {
		return nil, nil, core.NewError(core.KindInvalidInput, "Failed to read image file", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, core.NewError(core.KindInvalidInput, "Failed to read image file", err)
	}

	var name *string
	if header.Filename != "" {
		name = &header.Filename
	}
	return data, name, nil
}
