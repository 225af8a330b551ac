package culture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PatchStatus classifies the outcome of one row patch.
type PatchStatus string

const (
	PatchApplied PatchStatus = "applied"
	PatchSkipped PatchStatus = "skipped"
	PatchFailed  PatchStatus = "failed"
)

// patchableColumns is the closed set of columns the patch layer may touch.
// Identity fields (id, created_by, created_at) stay out so provenance is
// fixed at insert time.
var patchableColumns = map[string]struct{}{
	"date":                  {},
	"cell_line":             {},
	"event_type":            {},
	"passage":               {},
	"vessel":                {},
	"location":              {},
	"medium":                {},
	"cell_type":             {},
	"volume":                {},
	"notes":                 {},
	"operator":              {},
	"thaw_id":               {},
	"cryo_vial_position":    {},
	"cryo_storage_position": {},
	"attachment_key":        {},
	"assigned_to":           {},
	"next_action_date":      {},
}

// RowPatch addresses one entry in a bulk reconciliation.
type RowPatch struct {
	ID      int64          `json:"id"`
	Updates map[string]any `json:"updates"`
}

// RowOutcome reports what happened to one row of a bulk patch.
type RowOutcome struct {
	ID     int64       `json:"id"`
	Status PatchStatus `json:"status"`
	Code   string      `json:"code,omitempty"`
}

// BulkResult aggregates per-row outcomes of a bulk patch.
type BulkResult struct {
	Outcomes []RowOutcome `json:"outcomes"`
	Applied  int          `json:"applied"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
}

// Patch applies a column delta to one entry. Unknown or immutable columns
// refuse the whole patch; values equal to the stored ones are dropped, and a
// patch whose delta comes out empty writes nothing, not even an audit row.
func (s *Service) Patch(ctx context.Context, id int64, updates map[string]any, editedBy string) (LogEntry, error) {
	entry, changed, err := s.applyPatch(ctx, id, updates, editedBy)
	switch {
	case err != nil:
		s.metrics.RecordPatchOutcome(string(PatchFailed))
		return LogEntry{}, err
	case changed:
		s.metrics.RecordPatchOutcome(string(PatchApplied))
	default:
		s.metrics.RecordPatchOutcome(string(PatchSkipped))
	}
	return entry, nil
}

// BulkPatch applies many row patches independently: each row runs in its own
// transaction and one row's failure never aborts the rest. The result keeps
// row order.
func (s *Service) BulkPatch(ctx context.Context, patches []RowPatch, editedBy string) (BulkResult, error) {
	if s.db == nil {
		s.logError(opBulkPatch, "missing_database", errMissingDatabase)
		return BulkResult{}, newServiceError(opBulkPatch, "missing_database", errMissingDatabase)
	}

	result := BulkResult{Outcomes: make([]RowOutcome, 0, len(patches))}
	for _, patch := range patches {
		_, changed, err := s.applyPatch(ctx, patch.ID, patch.Updates, editedBy)
		outcome := RowOutcome{ID: patch.ID}
		switch {
		case err != nil:
			outcome.Status = PatchFailed
			outcome.Code = serviceErrorCode(err)
			result.Failed++
		case changed:
			outcome.Status = PatchApplied
			result.Applied++
		default:
			outcome.Status = PatchSkipped
			result.Skipped++
		}
		s.metrics.RecordPatchOutcome(string(outcome.Status))
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (s *Service) applyPatch(ctx context.Context, id int64, updates map[string]any, editedBy string) (LogEntry, bool, error) {
	if s.db == nil {
		s.logError(opPatchEntry, "missing_database", errMissingDatabase)
		return LogEntry{}, false, newServiceError(opPatchEntry, "missing_database", errMissingDatabase)
	}
	if id <= 0 {
		return LogEntry{}, false, newServiceError(opPatchEntry, "invalid_id", ErrInvalidEntryID)
	}

	normalized, err := normalizePatchFields(updates)
	if err != nil {
		reason := "invalid_value"
		if errors.Is(err, ErrFieldNotPatchable) {
			reason = "field_not_patchable"
		}
		return LogEntry{}, false, newServiceError(opPatchEntry, reason, err)
	}

	var patched LogEntry
	changed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current LogEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&current, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opPatchEntry, "entry_not_found", ErrEntryNotFound)
		}
		if err != nil {
			s.logError(opPatchEntry, "select_failed", err, zap.Int64("entry_id", id))
			return newServiceError(opPatchEntry, "select_failed", err)
		}

		delta := make(map[string]any, len(normalized))
		for column, next := range normalized {
			if entryColumnValue(current, column) != next {
				delta[column] = next
			}
		}
		if len(delta) == 0 {
			patched = current
			return nil
		}

		if err := tx.Model(&LogEntry{}).Where("id = ?", id).Updates(delta).Error; err != nil {
			s.logError(opPatchEntry, "update_failed", err, zap.Int64("entry_id", id))
			return newServiceError(opPatchEntry, "update_failed", err)
		}

		revisionID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opPatchEntry, "id_generation_failed", err, zap.Int64("entry_id", id))
			return newServiceError(opPatchEntry, "id_generation_failed", err)
		}
		encodedDelta, err := json.Marshal(delta)
		if err != nil {
			return newServiceError(opPatchEntry, "delta_encoding_failed", err)
		}
		revision := EntryRevision{
			RevisionID: revisionID,
			EntryID:    id,
			FieldsJSON: string(encodedDelta),
			EditedBy:   strings.TrimSpace(editedBy),
			AppliedAt:  s.clock().UTC(),
		}
		if err := tx.Create(&revision).Error; err != nil {
			s.logError(opPatchEntry, "audit_insert_failed", err, zap.Int64("entry_id", id))
			return newServiceError(opPatchEntry, "audit_insert_failed", err)
		}

		if err := tx.Take(&patched, "id = ?", id).Error; err != nil {
			s.logError(opPatchEntry, "reload_failed", err, zap.Int64("entry_id", id))
			return newServiceError(opPatchEntry, "reload_failed", err)
		}
		changed = true
		return nil
	})
	if txErr != nil {
		return LogEntry{}, false, txErr
	}
	return patched, changed, nil
}

// normalizePatchFields checks every column against the allow list and coerces
// values to their storage shape. The whole patch is refused on the first
// offending column.
func normalizePatchFields(updates map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(updates))
	for column, value := range updates {
		if _, allowed := patchableColumns[column]; !allowed {
			return nil, fmt.Errorf("%w: %q", ErrFieldNotPatchable, column)
		}
		coerced, err := normalizePatchValue(column, value)
		if err != nil {
			return nil, err
		}
		normalized[column] = coerced
	}
	return normalized, nil
}

func normalizePatchValue(column string, value any) (any, error) {
	switch column {
	case "date":
		text, ok := stringValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a date string", ErrInvalidPatchValue, column)
		}
		day, err := NewEventDate(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatchValue, column, err)
		}
		return day.String(), nil
	case "next_action_date":
		if value == nil {
			return nil, nil
		}
		text, ok := stringValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a date string or null", ErrInvalidPatchValue, column)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		day, err := NewEventDate(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatchValue, column, err)
		}
		return day.String(), nil
	case "passage":
		if value == nil {
			return nil, nil
		}
		number, ok := intValue(value)
		if !ok || number < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer or null", ErrInvalidPatchValue, column)
		}
		return number, nil
	case "volume":
		if value == nil {
			return nil, nil
		}
		number, ok := floatValue(value)
		if !ok || number < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative number or null", ErrInvalidPatchValue, column)
		}
		return number, nil
	default:
		if value == nil {
			return "", nil
		}
		text, ok := stringValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidPatchValue, column)
		}
		return strings.TrimSpace(text), nil
	}
}

// entryColumnValue returns the stored value of one patchable column in the
// same shape normalizePatchValue produces, so the two compare directly.
func entryColumnValue(entry LogEntry, column string) any {
	switch column {
	case "date":
		return entry.Date.String()
	case "cell_line":
		return entry.CellLine
	case "event_type":
		return entry.EventType
	case "passage":
		if entry.Passage == nil {
			return nil
		}
		return *entry.Passage
	case "vessel":
		return entry.Vessel
	case "location":
		return entry.Location
	case "medium":
		return entry.Medium
	case "cell_type":
		return entry.CellType
	case "volume":
		if entry.Volume == nil {
			return nil
		}
		return *entry.Volume
	case "notes":
		return entry.Notes
	case "operator":
		return entry.Operator
	case "thaw_id":
		return entry.ThawID
	case "cryo_vial_position":
		return entry.CryoVialPosition
	case "cryo_storage_position":
		return entry.CryoStoragePosition
	case "attachment_key":
		return entry.AttachmentKey
	case "assigned_to":
		return entry.AssignedTo
	case "next_action_date":
		if entry.NextActionDate == nil {
			return nil
		}
		return entry.NextActionDate.String()
	}
	return nil
}

func stringValue(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case EventDate:
		return typed.String(), true
	}
	return "", false
}

func intValue(value any) (int, bool) {
	switch typed := value.(type) {
	case int:
		return typed, true
	case int32:
		return int(typed), true
	case int64:
		return int(typed), true
	case float64:
		if typed != math.Trunc(typed) {
			return 0, false
		}
		return int(typed), true
	}
	return 0, false
}

func floatValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	}
	return 0, false
}

func serviceErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return opBulkPatch + ".row_failed"
}
