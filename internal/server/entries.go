package server

import (
	"net/http"
	"strconv"

	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/export"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *apiHandler) handleInsertEntry(c *gin.Context) {
	var submission culture.Submission
	if err := c.ShouldBindJSON(&submission); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.culture.Insert(c.Request.Context(), submission)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(ChangeActionInsert, entry.ThawID, entry.ID)
	c.JSON(http.StatusCreated, entry)
}

func (h *apiHandler) handleQueryEntries(c *gin.Context) {
	filter, ok := h.entryFilterFromQuery(c)
	if !ok {
		return
	}

	entries, err := h.culture.Query(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *apiHandler) handleGetEntry(c *gin.Context) {
	id, ok := h.entryIDParam(c)
	if !ok {
		return
	}

	entry, err := h.culture.GetEntry(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type patchRequestPayload struct {
	Fields   map[string]any `json:"fields"`
	EditedBy string         `json:"edited_by"`
}

func (h *apiHandler) handlePatchEntry(c *gin.Context) {
	id, ok := h.entryIDParam(c)
	if !ok {
		return
	}

	var request patchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.culture.Patch(c.Request.Context(), id, request.Fields, request.EditedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(ChangeActionPatch, entry.ThawID, entry.ID)
	c.JSON(http.StatusOK, entry)
}

type bulkPatchRequestPayload struct {
	Patches  []culture.RowPatch `json:"patches"`
	EditedBy string             `json:"edited_by"`
}

func (h *apiHandler) handleBulkPatch(c *gin.Context) {
	var request bulkPatchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Patches) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.culture.BulkPatch(c.Request.Context(), request.Patches, request.EditedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}

	applied := make([]int64, 0, result.Applied)
	for _, outcome := range result.Outcomes {
		if outcome.Status == culture.PatchApplied {
			applied = append(applied, outcome.ID)
		}
	}
	if len(applied) > 0 {
		h.publishChange(ChangeActionPatch, "", applied...)
	}
	c.JSON(http.StatusOK, result)
}

func (h *apiHandler) handleEntryRevisions(c *gin.Context) {
	id, ok := h.entryIDParam(c)
	if !ok {
		return
	}

	revisions, err := h.culture.Revisions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revisions})
}

func (h *apiHandler) handleExportCSV(c *gin.Context) {
	filter, ok := h.entryFilterFromQuery(c)
	if !ok {
		return
	}

	entries, err := h.culture.Query(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+export.CSVFilename+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, entries); err != nil {
		h.logger.Error("csv export failed", zap.Error(err))
	}
}

func (h *apiHandler) handleAttachImage(c *gin.Context) {
	id, ok := h.entryIDParam(c)
	if !ok {
		return
	}

	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	entry, info, err := h.culture.AttachImage(
		c.Request.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.publishChange(ChangeActionPatch, entry.ThawID, entry.ID)
	c.JSON(http.StatusCreated, gin.H{"entry": entry, "attachment": info})
}

func (h *apiHandler) handleDownloadImage(c *gin.Context) {
	id, ok := h.entryIDParam(c)
	if !ok {
		return
	}

	info, reader, err := h.culture.OpenImage(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, reader, nil)
}

func (h *apiHandler) handleSuggestions(c *gin.Context) {
	cellLine := c.Query("cell_line")

	var day culture.EventDate
	if raw := c.Query("date"); raw != "" {
		parsed, err := culture.NewEventDate(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		day = parsed
	}

	defaults, err := h.culture.EntryDefaults(c.Request.Context(), cellLine, day)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defaults)
}

func (h *apiHandler) handleTopValues(c *gin.Context) {
	column := c.Query("column")
	if column == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		limit = parsed
	}

	values, err := h.culture.TopValues(c.Request.Context(), column, c.Query("cell_line"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

type thawPreviewRequestPayload struct {
	CellLine string `json:"cell_line"`
	Operator string `json:"operator"`
	Date     string `json:"date"`
}

func (h *apiHandler) handlePreviewThawID(c *gin.Context) {
	var request thawPreviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	day, err := culture.NewEventDate(request.Date)
	if err != nil {
		h.respondError(c, err)
		return
	}

	thawID, err := h.culture.GenerateThawID(c.Request.Context(), request.CellLine, request.Operator, day)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thaw_id": thawID})
}

func (h *apiHandler) handleListThawIDs(c *gin.Context) {
	thawIDs, err := h.culture.DistinctThawIDs(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thaw_ids": thawIDs})
}

func (h *apiHandler) handleThawTimeline(c *gin.Context) {
	entries, err := h.culture.Query(c.Request.Context(), culture.Filter{
		ThawID: c.Param("thawID"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *apiHandler) entryIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return id, true
}

func (h *apiHandler) entryFilterFromQuery(c *gin.Context) (culture.Filter, bool) {
	filter := culture.Filter{
		CreatedBy:        c.Query("created_by"),
		EventType:        c.Query("event_type"),
		ThawID:           c.Query("thaw_id"),
		CellLineContains: c.Query("cell_line"),
	}
	if raw := c.Query("from"); raw != "" {
		day, err := culture.NewEventDate(raw)
		if err != nil {
			h.respondError(c, err)
			return culture.Filter{}, false
		}
		filter.From = day
	}
	if raw := c.Query("to"); raw != "" {
		day, err := culture.NewEventDate(raw)
		if err != nil {
			h.respondError(c, err)
			return culture.Filter{}, false
		}
		filter.To = day
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return culture.Filter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}
