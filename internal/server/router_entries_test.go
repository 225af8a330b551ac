package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
	"github.com/PolarisBioLab/stemtrack/internal/catalog"
	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/metrics"
	"github.com/PolarisBioLab/stemtrack/internal/operators"
	"github.com/PolarisBioLab/stemtrack/internal/schedule"
	"github.com/PolarisBioLab/stemtrack/internal/templates"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const thawSubmissionBody = `{
	"date": "2024-03-01",
	"cell_line": "BIHi005-A-24",
	"event_type": "Thawing",
	"passage": 12,
	"vessel": "6-well plate",
	"location": "Incubator A, Shelf 2",
	"medium": "StemFlex",
	"cell_type": "iPSC",
	"operator": "Jane Doe",
	"cryo_vial_position": "Rack 2 / Box 1 / A5",
	"created_by": "jane"
}`

func newTestDependencies(testContext *testing.T) Dependencies {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(
		&culture.LogEntry{},
		&culture.EntryRevision{},
		&operators.Operator{},
		&schedule.WeekendAssignment{},
		&templates.EntryTemplate{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	for _, kind := range catalog.Kinds() {
		table, err := kind.Table()
		if err != nil {
			testContext.Fatalf("failed to resolve catalog table: %v", err)
		}
		if err := db.Table(table).AutoMigrate(&catalog.ReferenceValue{}); err != nil {
			testContext.Fatalf("failed to migrate catalog table %s: %v", table, err)
		}
	}

	current := time.Unix(1709290000, 0).UTC()
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	scheduleService, err := schedule.NewService(schedule.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build schedule service: %v", err)
	}
	blobStore := blob.NewMemory()
	cultureService, err := culture.NewService(culture.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: culture.NewUUIDProvider(),
		Duty:       scheduleService,
		Blobs:      blobStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build culture service: %v", err)
	}
	operatorService, err := operators.NewService(operators.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build operator service: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build catalog service: %v", err)
	}
	templateService, err := templates.NewService(templates.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build template service: %v", err)
	}

	return Dependencies{
		Culture:    cultureService,
		Operators:  operatorService,
		Catalogs:   catalogService,
		Schedule:   scheduleService,
		Templates:  templateService,
		Blobs:      blobStore,
		Metrics:    metrics.NewCollectors(nil),
		Dispatcher: NewChangeDispatcher(),
	}
}

func newTestRouter(testContext *testing.T) http.Handler {
	testContext.Helper()
	handler, err := NewHTTPHandler(newTestDependencies(testContext))
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func performRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testContext *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testContext.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestEntriesEndpointInsertAndQuery(testContext *testing.T) {
	handler := newTestRouter(testContext)

	recorder := performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody(testContext, recorder)
	if created["thaw_id"] != "TH-20240301-BIHI005A24-JD-01" {
		testContext.Fatalf("unexpected minted thaw id: %v", created["thaw_id"])
	}

	recorder = performRequest(handler, http.MethodGet, "/api/entries?cell_line=bihi005", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	listed := decodeBody(testContext, recorder)
	entries, ok := listed["entries"].([]any)
	if !ok || len(entries) != 1 {
		testContext.Fatalf("expected one entry, got %v", listed["entries"])
	}
}

func TestEntriesEndpointValidationFailureListsFields(testContext *testing.T) {
	handler := newTestRouter(testContext)

	body := `{"date":"2024-03-01","cell_line":"BIHi005-A-24","event_type":"Observation","medium":"StemFlex","cell_type":"iPSC","created_by":"jane"}`
	recorder := performRequest(handler, http.MethodPost, "/api/entries", body)
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeBody(testContext, recorder)
	if payload["error"] != "validation_failed" {
		testContext.Fatalf("expected validation_failed, got %v", payload["error"])
	}
	fields, ok := payload["fields"].([]any)
	if !ok {
		testContext.Fatalf("expected fields list, got %v", payload["fields"])
	}
	joined := fmt.Sprint(fields)
	for _, field := range []string{"vessel", "location", "operator"} {
		if !strings.Contains(joined, field) {
			testContext.Fatalf("expected %s in refused fields, got %v", field, fields)
		}
	}
}

func TestEntryEndpointRejectsUnknownAndMalformedIDs(testContext *testing.T) {
	handler := newTestRouter(testContext)

	recorder := performRequest(handler, http.MethodGet, "/api/entries/9999", "")
	if recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found, got %d", recorder.Code)
	}
	if payload := decodeBody(testContext, recorder); payload["error"] != "not_found" {
		testContext.Fatalf("expected not_found body, got %v", payload)
	}

	recorder = performRequest(handler, http.MethodGet, "/api/entries/abc", "")
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request for malformed id, got %d", recorder.Code)
	}
}

func TestPatchEndpointAppliesDeltaAndRecordsRevision(testContext *testing.T) {
	handler := newTestRouter(testContext)

	recorder := performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("failed to insert entry: %s", recorder.Body.String())
	}
	created := decodeBody(testContext, recorder)
	entryID := int64(created["id"].(float64))

	patchBody := `{"fields":{"notes":"confluent, ready to split"},"edited_by":"sam"}`
	recorder = performRequest(handler, http.MethodPatch, fmt.Sprintf("/api/entries/%d", entryID), patchBody)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	patched := decodeBody(testContext, recorder)
	if patched["notes"] != "confluent, ready to split" {
		testContext.Fatalf("expected patched notes, got %v", patched["notes"])
	}

	recorder = performRequest(handler, http.MethodGet, fmt.Sprintf("/api/entries/%d/revisions", entryID), "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status for revisions, got %d", recorder.Code)
	}
	payload := decodeBody(testContext, recorder)
	revisions, ok := payload["revisions"].([]any)
	if !ok || len(revisions) != 1 {
		testContext.Fatalf("expected one revision, got %v", payload["revisions"])
	}
	revision := revisions[0].(map[string]any)
	if revision["edited_by"] != "sam" {
		testContext.Fatalf("expected editor recorded, got %v", revision["edited_by"])
	}
}

func TestBulkPatchEndpointReportsPerRowOutcomes(testContext *testing.T) {
	handler := newTestRouter(testContext)

	recorder := performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	created := decodeBody(testContext, recorder)
	entryID := int64(created["id"].(float64))

	bulkBody := fmt.Sprintf(
		`{"patches":[{"id":%d,"updates":{"location":"Incubator B"}},{"id":9999,"updates":{"notes":"x"}}],"edited_by":"sam"}`,
		entryID)
	recorder = performRequest(handler, http.MethodPost, "/api/entries/bulk-patch", bulkBody)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeBody(testContext, recorder)
	if payload["applied"] != float64(1) || payload["failed"] != float64(1) {
		testContext.Fatalf("expected one applied and one failed row, got %v", payload)
	}
	outcomes := payload["outcomes"].([]any)
	failure := outcomes[1].(map[string]any)
	if failure["status"] != "failed" || failure["code"] != "culture.patch_entry.entry_not_found" {
		testContext.Fatalf("unexpected failure outcome: %v", failure)
	}
}

func TestExportEndpointStreamsCSV(testContext *testing.T) {
	handler := newTestRouter(testContext)

	performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)

	recorder := performRequest(handler, http.MethodGet, "/api/entries/export", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/csv") {
		testContext.Fatalf("expected csv content type, got %q", contentType)
	}
	if disposition := recorder.Header().Get("Content-Disposition"); !strings.Contains(disposition, "ipsc_culture_log.csv") {
		testContext.Fatalf("expected download filename, got %q", disposition)
	}

	lines := strings.Split(strings.TrimSpace(recorder.Body.String()), "\n")
	if len(lines) != 2 {
		testContext.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Date,Cell Line,Event Type") {
		testContext.Fatalf("unexpected csv header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "TH-20240301-BIHI005A24-JD-01") {
		testContext.Fatalf("expected thaw id in csv row: %q", lines[1])
	}
}

func TestSuggestionsEndpointAggregatesDefaults(testContext *testing.T) {
	handler := newTestRouter(testContext)

	performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	performRequest(handler, http.MethodPut, "/api/schedule",
		`{"dates":["2024-03-02"],"assigned_to":"sam"}`)

	recorder := performRequest(handler, http.MethodGet,
		"/api/suggestions?cell_line=BIHi005-A-24&date=2024-03-02", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeBody(testContext, recorder)
	if payload["predicted_passage"] != float64(13) {
		testContext.Fatalf("expected predicted passage 13, got %v", payload["predicted_passage"])
	}
	if payload["suggested_event"] != culture.EventTypeObservation {
		testContext.Fatalf("expected observation suggestion, got %v", payload["suggested_event"])
	}
	if payload["latest_thaw_id"] != "TH-20240301-BIHI005A24-JD-01" {
		testContext.Fatalf("expected latest thaw id, got %v", payload["latest_thaw_id"])
	}
	if payload["weekend_assignee"] != "sam" {
		testContext.Fatalf("expected weekend assignee, got %v", payload["weekend_assignee"])
	}
}

func TestTopValuesEndpointRanksAndRefuses(testContext *testing.T) {
	handler := newTestRouter(testContext)

	performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)

	recorder := performRequest(handler, http.MethodGet, "/api/suggestions/top-values?column=medium", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	payload := decodeBody(testContext, recorder)
	values := payload["values"].([]any)
	if len(values) != 1 {
		testContext.Fatalf("expected one ranked value, got %v", values)
	}
	top := values[0].(map[string]any)
	if top["value"] != "StemFlex" || top["count"] != float64(1) {
		testContext.Fatalf("unexpected top value: %v", top)
	}

	recorder = performRequest(handler, http.MethodGet, "/api/suggestions/top-values?column=notes", "")
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected bad request for disallowed column, got %d", recorder.Code)
	}
}

func TestThawPreviewDoesNotPersist(testContext *testing.T) {
	handler := newTestRouter(testContext)

	previewBody := `{"cell_line":"BIHi005-A-24","operator":"Jane Doe","date":"2024-03-01"}`
	recorder := performRequest(handler, http.MethodPost, "/api/thaw-ids/preview", previewBody)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(testContext, recorder)
	if payload["thaw_id"] != "TH-20240301-BIHI005A24-JD-01" {
		testContext.Fatalf("unexpected preview id: %v", payload["thaw_id"])
	}

	recorder = performRequest(handler, http.MethodGet, "/api/entries", "")
	listed := decodeBody(testContext, recorder)
	if entries := listed["entries"].([]any); len(entries) != 0 {
		testContext.Fatalf("expected preview to persist nothing, got %d entries", len(entries))
	}
}

func TestThawTimelineEndpointFiltersByThawID(testContext *testing.T) {
	handler := newTestRouter(testContext)

	performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	observation := `{"date":"2024-03-03","cell_line":"BIHi005-A-24","event_type":"Observation","vessel":"6-well plate","location":"Incubator A, Shelf 2","medium":"StemFlex","cell_type":"iPSC","operator":"Jane Doe","thaw_id":"TH-20240301-BIHI005A24-JD-01","created_by":"jane"}`
	performRequest(handler, http.MethodPost, "/api/entries", observation)

	recorder := performRequest(handler, http.MethodGet, "/api/thaw-ids", "")
	payload := decodeBody(testContext, recorder)
	thawIDs := payload["thaw_ids"].([]any)
	if len(thawIDs) != 1 || thawIDs[0] != "TH-20240301-BIHI005A24-JD-01" {
		testContext.Fatalf("unexpected thaw id list: %v", thawIDs)
	}

	recorder = performRequest(handler, http.MethodGet, "/api/thaw-ids/TH-20240301-BIHI005A24-JD-01/timeline", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", recorder.Code)
	}
	timeline := decodeBody(testContext, recorder)
	entries := timeline["entries"].([]any)
	if len(entries) != 2 {
		testContext.Fatalf("expected both linked entries, got %d", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["event_type"] != culture.EventTypeThawing {
		testContext.Fatalf("expected thaw first in timeline, got %v", first["event_type"])
	}
}

func TestImageUploadDownloadRoundTrip(testContext *testing.T) {
	handler := newTestRouter(testContext)

	recorder := performRequest(handler, http.MethodPost, "/api/entries", thawSubmissionBody)
	created := decodeBody(testContext, recorder)
	entryID := int64(created["id"].(float64))

	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("image", "colony day4.png")
	if err != nil {
		testContext.Fatalf("failed to build form file: %v", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		testContext.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close form: %v", err)
	}

	uploadPath := fmt.Sprintf("/api/entries/%d/image", entryID)
	request := httptest.NewRequest(http.MethodPost, uploadPath, &form)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	uploadRecorder := httptest.NewRecorder()
	handler.ServeHTTP(uploadRecorder, request)
	if uploadRecorder.Code != http.StatusCreated {
		testContext.Fatalf("expected created status, got %d: %s", uploadRecorder.Code, uploadRecorder.Body.String())
	}

	downloadRecorder := performRequest(handler, http.MethodGet, uploadPath, "")
	if downloadRecorder.Code != http.StatusOK {
		testContext.Fatalf("expected ok status, got %d", downloadRecorder.Code)
	}
	if !bytes.Equal(downloadRecorder.Body.Bytes(), imageBytes) {
		testContext.Fatalf("downloaded image differs from upload")
	}

	missingRecorder := performRequest(handler, http.MethodGet, "/api/entries/9999/image", "")
	if missingRecorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected not found for absent entry, got %d", missingRecorder.Code)
	}
}
