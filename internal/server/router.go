package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
	"github.com/PolarisBioLab/stemtrack/internal/catalog"
	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/metrics"
	"github.com/PolarisBioLab/stemtrack/internal/operators"
	"github.com/PolarisBioLab/stemtrack/internal/schedule"
	"github.com/PolarisBioLab/stemtrack/internal/templates"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingCultureService  = errors.New("culture service dependency required")
	errMissingOperatorService = errors.New("operator service dependency required")
	errMissingCatalogService  = errors.New("catalog service dependency required")
	errMissingScheduleService = errors.New("schedule service dependency required")
	errMissingTemplateService = errors.New("template service dependency required")
)

// Dependencies carries everything the HTTP layer needs. Blobs, Metrics and
// Dispatcher are optional; the image endpoints refuse without a blob store and
// a missing dispatcher is replaced with a private one.
type Dependencies struct {
	Culture   *culture.Service
	Operators *operators.Service
	Catalogs  *catalog.Service
	Schedule  *schedule.Service
	Templates *templates.Service

	Blobs      blob.Store
	Metrics    *metrics.Collectors
	Dispatcher *ChangeDispatcher
	Logger     *zap.Logger

	// DatabasePath and BackupDir feed the backup endpoint.
	DatabasePath string
	BackupDir    string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Culture == nil {
		return nil, errMissingCultureService
	}
	if deps.Operators == nil {
		return nil, errMissingOperatorService
	}
	if deps.Catalogs == nil {
		return nil, errMissingCatalogService
	}
	if deps.Schedule == nil {
		return nil, errMissingScheduleService
	}
	if deps.Templates == nil {
		return nil, errMissingTemplateService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewChangeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &apiHandler{
		culture:      deps.Culture,
		operators:    deps.Operators,
		catalogs:     deps.Catalogs,
		schedule:     deps.Schedule,
		templates:    deps.Templates,
		blobs:        deps.Blobs,
		dispatcher:   dispatcher,
		logger:       logger,
		databasePath: deps.DatabasePath,
		backupDir:    deps.BackupDir,
	}

	router.GET("/healthz", handler.handleHealthz)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/entries", handler.handleInsertEntry)
	api.GET("/entries", handler.handleQueryEntries)
	api.GET("/entries/export", handler.handleExportCSV)
	api.GET("/entries/:id", handler.handleGetEntry)
	api.PATCH("/entries/:id", handler.handlePatchEntry)
	api.POST("/entries/bulk-patch", handler.handleBulkPatch)
	api.GET("/entries/:id/revisions", handler.handleEntryRevisions)
	api.POST("/entries/:id/image", handler.handleAttachImage)
	api.GET("/entries/:id/image", handler.handleDownloadImage)

	api.GET("/suggestions", handler.handleSuggestions)
	api.GET("/suggestions/top-values", handler.handleTopValues)

	api.POST("/thaw-ids/preview", handler.handlePreviewThawID)
	api.GET("/thaw-ids", handler.handleListThawIDs)
	api.GET("/thaw-ids/:thawID/timeline", handler.handleThawTimeline)

	api.GET("/operators", handler.handleListOperators)
	api.POST("/operators", handler.handleRegisterOperator)
	api.DELETE("/operators/:username", handler.handleDeleteOperator)
	api.PUT("/operators/:username/color", handler.handleUpdateOperatorColor)

	api.GET("/catalogs/:kind", handler.handleListCatalog)
	api.POST("/catalogs/:kind", handler.handleAddCatalogValue)
	api.POST("/catalogs/:kind/rename", handler.handleRenameCatalogValue)
	api.DELETE("/catalogs/:kind/:name", handler.handleDeleteCatalogValue)

	api.GET("/schedule", handler.handleScheduleRange)
	api.PUT("/schedule", handler.handleScheduleUpsert)
	api.DELETE("/schedule/:date", handler.handleScheduleDelete)
	api.GET("/schedule/duty", handler.handleScheduleDuty)

	api.GET("/templates", handler.handleListTemplates)
	api.PUT("/templates/:name", handler.handleSaveTemplate)
	api.DELETE("/templates/:name", handler.handleDeleteTemplate)

	api.POST("/backups", handler.handleCreateBackup)
	api.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

type apiHandler struct {
	culture   *culture.Service
	operators *operators.Service
	catalogs  *catalog.Service
	schedule  *schedule.Service
	templates *templates.Service

	blobs      blob.Store
	dispatcher *ChangeDispatcher
	logger     *zap.Logger

	databasePath string
	backupDir    string
}

func (h *apiHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError translates domain errors into HTTP responses. Validation
// refusals list the offending fields so the client can highlight them.
func (h *apiHandler) respondError(c *gin.Context, err error) {
	var validation *culture.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validation.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, culture.ErrEntryNotFound),
		errors.Is(err, culture.ErrNoAttachment),
		errors.Is(err, blob.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, culture.ErrInvalidEntryID),
		errors.Is(err, culture.ErrInvalidDate),
		errors.Is(err, culture.ErrFieldNotPatchable),
		errors.Is(err, culture.ErrInvalidPatchValue),
		errors.Is(err, culture.ErrColumnNotAllowed),
		errors.Is(err, catalog.ErrUnknownReferenceKind),
		errors.Is(err, catalog.ErrMissingName),
		errors.Is(err, operators.ErrMissingUsername),
		errors.Is(err, templates.ErrMissingName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, culture.ErrNoBlobStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments_unavailable"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		code := "internal_error"
		var serviceErr *culture.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
}
