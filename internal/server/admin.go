package server

import (
	"net/http"

	"github.com/PolarisBioLab/stemtrack/internal/catalog"
	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/export"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *apiHandler) handleListOperators(c *gin.Context) {
	listed, err := h.operators.ListWithColors(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operators": listed})
}

type operatorRequestPayload struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	ColorHex    string `json:"color_hex"`
}

func (h *apiHandler) handleRegisterOperator(c *gin.Context) {
	var request operatorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	operator, err := h.operators.GetOrCreate(
		c.Request.Context(), request.Username, request.DisplayName, request.ColorHex)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, operator)
}

func (h *apiHandler) handleDeleteOperator(c *gin.Context) {
	if err := h.operators.Delete(c.Request.Context(), c.Param("username")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type operatorColorPayload struct {
	ColorHex string `json:"color_hex"`
}

func (h *apiHandler) handleUpdateOperatorColor(c *gin.Context) {
	var request operatorColorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.operators.UpdateColor(c.Request.Context(), c.Param("username"), request.ColorHex); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) catalogKindParam(c *gin.Context) (catalog.Kind, bool) {
	kind, err := catalog.ParseKind(c.Param("kind"))
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return kind, true
}

func (h *apiHandler) handleListCatalog(c *gin.Context) {
	kind, ok := h.catalogKindParam(c)
	if !ok {
		return
	}

	values, err := h.catalogs.List(c.Request.Context(), kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

type catalogValuePayload struct {
	Name string `json:"name"`
}

func (h *apiHandler) handleAddCatalogValue(c *gin.Context) {
	kind, ok := h.catalogKindParam(c)
	if !ok {
		return
	}

	var request catalogValuePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.catalogs.Add(c.Request.Context(), kind, request.Name); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type catalogRenamePayload struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (h *apiHandler) handleRenameCatalogValue(c *gin.Context) {
	kind, ok := h.catalogKindParam(c)
	if !ok {
		return
	}

	var request catalogRenamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.catalogs.Rename(c.Request.Context(), kind, request.OldName, request.NewName); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) handleDeleteCatalogValue(c *gin.Context) {
	kind, ok := h.catalogKindParam(c)
	if !ok {
		return
	}

	if err := h.catalogs.Delete(c.Request.Context(), kind, c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) handleScheduleRange(c *gin.Context) {
	var from, to culture.EventDate
	if raw := c.Query("from"); raw != "" {
		parsed, err := culture.NewEventDate(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := culture.NewEventDate(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		to = parsed
	}

	assignments, err := h.schedule.Range(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

type scheduleUpsertPayload struct {
	Dates      []string `json:"dates"`
	AssignedTo string   `json:"assigned_to"`
	Notes      string   `json:"notes"`
}

func (h *apiHandler) handleScheduleUpsert(c *gin.Context) {
	var request scheduleUpsertPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Dates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	dates := make([]culture.EventDate, 0, len(request.Dates))
	for _, raw := range request.Dates {
		dates = append(dates, culture.EventDate(raw))
	}
	if err := h.schedule.Upsert(c.Request.Context(), dates, request.AssignedTo, request.Notes); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) handleScheduleDelete(c *gin.Context) {
	day, err := culture.NewEventDate(c.Param("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.schedule.Delete(c.Request.Context(), day); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) handleScheduleDuty(c *gin.Context) {
	day, err := culture.NewEventDate(c.Query("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	assignee, err := h.schedule.AssignmentFor(c.Request.Context(), day)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "assigned_to": assignee})
}

func (h *apiHandler) handleListTemplates(c *gin.Context) {
	stored, err := h.templates.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": stored})
}

func (h *apiHandler) handleSaveTemplate(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	template, err := h.templates.Save(c.Request.Context(), c.Param("name"), payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *apiHandler) handleDeleteTemplate(c *gin.Context) {
	if err := h.templates.Delete(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) handleCreateBackup(c *gin.Context) {
	backupDir, err := export.Snapshot(c.Request.Context(), export.SnapshotConfig{
		Root:         h.backupDir,
		DatabasePath: h.databasePath,
		Blobs:        h.blobs,
		Logger:       h.logger,
	})
	if err != nil {
		h.logger.Error("backup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backup_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"backup_dir": backupDir})
}
