package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/goannotate/internal/backend/commands"
	"github.com/jo-hoe/goannotate/internal/backend/commandstructure"
	"github.com/jo-hoe/goannotate/internal/backend/database"
	"github.com/jo-hoe/goannotate/internal/backend/overlay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ImageRef is the addressable handle returned after a write.
type ImageRef struct {
	ID  int64
	URL string
}

// AnnotationResult describes the derived image created by AnnotateImage.
type AnnotationResult struct {
	ID              int64
	URL             string
	OriginalImageID int64
}

// ImageInfo is the metadata view of a stored image.
type ImageInfo struct {
	ID              int64
	URL             string
	ContentType     string
	OriginalName    *string
	OriginalImageID *int64
	Width           int
	Height          int
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	ingestion       *commandstructure.CommandInvoker
	metrics         *Metrics
}

// NewCoreService wires the image store, the optional cache and the ingestion chain.
// Collectors are registered with registerer when it is not nil.
func NewCoreService(ctx context.Context, config *ServiceConfig, registerer prometheus.Registerer) (*CoreService, error) {
	configured, err := commandstructure.NewCommandInvokerFromConfig(commandstructure.DefaultRegistry, config.commandConfigs())
	if err != nil {
		return nil, fmt.Errorf("failed to build ingestion chain: %w", err)
	}

	databaseService, err := getDatabaseService(ctx, config)
	if err != nil {
		return nil, err
	}

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		ingestion:       configured.With(commands.NewPngConverterCommandDirect()),
		metrics:         NewMetrics(registerer),
	}, nil
}

func getDatabaseService(ctx context.Context, config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(ctx, config.Database.Type, config.Database.ConnectionString, config.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)

	if !config.Cache.Enabled {
		return databaseService, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Cache.Address,
		Password: config.Cache.Password,
		DB:       config.Cache.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// the cache degrades to misses, so an unreachable redis is not fatal
		slog.Warn("image cache unreachable at startup", "address", config.Cache.Address, "error", err)
	} else {
		slog.Info("image cache enabled", "address", config.Cache.Address, "ttl", config.Cache.TTL)
	}
	return database.NewCachedDatabaseService(databaseService, client, config.Cache.TTL, config.Cache.KeyPrefix), nil
}

// ImageURL is the raw download path of image id.
func ImageURL(id int64) string {
	return fmt.Sprintf("/images/%d/raw", id)
}

// AddImage normalizes data through the ingestion chain and stores it as a new image.
func (service *CoreService) AddImage(ctx context.Context, data []byte, originalName *string) (ref *ImageRef, err error) {
	defer service.metrics.track("upload")(&err)

	processed, err := service.ingest(data)
	if err != nil {
		return nil, err
	}

	id, err := service.databaseService.CreateImage(ctx, commands.ContentTypePNG, originalName, processed, nil)
	if err != nil {
		return nil, NewError(KindStorageFailure, "Failed to save image", err)
	}
	slog.Info("image uploaded", "image_id", id, "size_bytes", len(processed))
	return &ImageRef{ID: id, URL: ImageURL(id)}, nil
}

// ReplaceImage overwrites the bytes of an existing image. The id and parent link are kept.
func (service *CoreService) ReplaceImage(ctx context.Context, id int64, data []byte, originalName *string) (ref *ImageRef, err error) {
	defer service.metrics.track("replace")(&err)

	exists, err := service.databaseService.ImageExists(ctx, id)
	if err != nil {
		return nil, NewError(KindStorageFailure, "Failed to load image", err)
	}
	if !exists {
		return nil, errImageNotFound()
	}

	processed, err := service.ingest(data)
	if err != nil {
		return nil, err
	}

	err = service.databaseService.UpdateImage(ctx, id, commands.ContentTypePNG, processed, originalName)
	if errors.Is(err, database.ErrImageNotFound) {
		return nil, errImageNotFound()
	}
	if err != nil {
		return nil, NewError(KindStorageFailure, "Failed to save image", err)
	}
	slog.Info("image replaced", "image_id", id, "size_bytes", len(processed))
	return &ImageRef{ID: id, URL: ImageURL(id)}, nil
}

// GetImage returns the stored record for id.
func (service *CoreService) GetImage(ctx context.Context, id int64) (image *database.Image, err error) {
	defer service.metrics.track("get")(&err)
	return service.loadImage(ctx, id)
}

// GetImageInfo returns the metadata of image id, including its pixel size.
func (service *CoreService) GetImageInfo(ctx context.Context, id int64) (info *ImageInfo, err error) {
	defer service.metrics.track("info")(&err)

	image, err := service.loadImage(ctx, id)
	if err != nil {
		return nil, err
	}

	info = &ImageInfo{
		ID:              image.ID,
		URL:             ImageURL(image.ID),
		ContentType:     image.ContentType,
		OriginalName:    image.OriginalName,
		OriginalImageID: image.OriginalImageID,
	}
	if metadata, metaErr := commands.DecodeMetadata(image.Data); metaErr != nil {
		slog.Warn("could not read stored image dimensions", "image_id", id, "error", metaErr)
	} else {
		info.Width, info.Height = metadata.Width, metadata.Height
	}
	return info, nil
}

// AnnotateImage renders request over image sourceID and stores the composite as a new
// image whose parent is sourceID. The source is never modified and nothing is stored
// unless every step succeeds.
func (service *CoreService) AnnotateImage(ctx context.Context, sourceID int64, request *overlay.Request) (result *AnnotationResult, err error) {
	defer service.metrics.track("annotate")(&err)

	source, err := service.loadImage(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	width, height := overlay.FallbackWidth, overlay.FallbackHeight
	if metadata, metaErr := commands.DecodeMetadata(source.Data); metaErr != nil {
		slog.Warn("could not read source dimensions; using fallback canvas",
			"image_id", sourceID, "width", width, "height", height, "error", metaErr)
	} else {
		width, height = metadata.Width, metadata.Height
	}

	rendered := overlay.Render(width, height, request)
	slog.Debug("overlay rendered",
		"image_id", sourceID,
		"paths", rendered.Paths,
		"texts", rendered.Texts,
		"svg_size_bytes", len(rendered.SVG))

	composite, err := commands.NewOverlayCommand(rendered.SVG).Execute(source.Data)
	if err != nil {
		return nil, NewError(KindCompositorFailure, "Failed to render annotations", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, NewError(KindStorageFailure, "Annotation cancelled", err)
	}

	parentID := sourceID
	id, err := service.databaseService.CreateImage(ctx, commands.ContentTypePNG, source.OriginalName, composite, &parentID)
	if err != nil {
		return nil, NewError(KindStorageFailure, "Failed to save annotated image", err)
	}

	slog.Info("annotated image created",
		"image_id", id,
		"original_image_id", sourceID,
		"paths", rendered.Paths,
		"texts", rendered.Texts)
	return &AnnotationResult{ID: id, URL: ImageURL(id), OriginalImageID: sourceID}, nil
}

// Health reports whether the image store is reachable.
func (service *CoreService) Health(ctx context.Context) error {
	if !service.databaseService.DoesDatabaseExist(ctx) {
		return NewError(KindStorageFailure, "Database unavailable", nil)
	}
	return nil
}

func (service *CoreService) Close() error {
	return service.databaseService.Close()
}

func (service *CoreService) loadImage(ctx context.Context, id int64) (*database.Image, error) {
	image, err := service.databaseService.GetImageByID(ctx, id)
	if err != nil {
		return nil, NewError(KindStorageFailure, "Failed to load image", err)
	}
	if image == nil {
		return nil, errImageNotFound()
	}
	return image, nil
}

func (service *CoreService) ingest(data []byte) ([]byte, error) {
	processed, err := service.ingestion.Execute(data)
	if err != nil {
		return nil, NewError(KindInvalidInput, "Invalid image file", err)
	}
	return processed, nil
}
