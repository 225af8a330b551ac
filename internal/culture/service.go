package culture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code so callers can
// report which operation failed without parsing message text.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew         = "culture.service.new"
	opInsertEntry        = "culture.insert_entry"
	opQueryEntries       = "culture.query_entries"
	opGetEntry           = "culture.get_entry"
	opPatchEntry         = "culture.patch_entry"
	opBulkPatch          = "culture.bulk_patch"
	opGenerateThawID     = "culture.generate_thaw_id"
	opLatestThawID       = "culture.latest_thaw_id"
	opDistinctThawIDs    = "culture.distinct_thaw_ids"
	opLastEntry          = "culture.last_entry"
	opRecentEntries      = "culture.recent_entries"
	opPredictNextPassage = "culture.predict_next_passage"
	opSuggestNextEvent   = "culture.suggest_next_event"
	opTopValues          = "culture.top_values"
	opEntryDefaults      = "culture.entry_defaults"
	opAttachImage        = "culture.attach_image"
	opOpenImage          = "culture.open_image"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for patch-audit revisions and attachment keys.
type IDProvider interface {
	NewID() (string, error)
}

// DutyLookup resolves the weekend duty assignee for a calendar date. The
// schedule package satisfies this; the culture service only ever reads it.
type DutyLookup interface {
	AssignmentFor(ctx context.Context, day EventDate) (string, error)
}

// MetricsRecorder receives domain counters. A nop implementation is used when
// no collector is wired in.
type MetricsRecorder interface {
	RecordEntryInserted(eventType string)
	RecordPatchOutcome(status string)
	RecordThawIDMinted()
}

type nopMetrics struct{}

func (nopMetrics) RecordEntryInserted(string) {}
func (nopMetrics) RecordPatchOutcome(string)  {}
func (nopMetrics) RecordThawIDMinted()        {}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Duty       DutyLookup      // optional, consulted for entry defaults
	Blobs      blob.Store      // optional, attachments disabled when absent
	Metrics    MetricsRecorder // optional
}

// Service owns the culture log: inserts, history queries, thaw-id minting,
// suggestions, and the patch layer.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	duty       DutyLookup
	blobs      blob.Store
	metrics    MetricsRecorder
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		duty:       cfg.Duty,
		blobs:      cfg.Blobs,
		metrics:    metrics,
	}, nil
}

// Insert validates a submission and writes a new log entry. Validation is
// all-or-nothing: any unacceptable field refuses the whole write. Thawing
// entries without a thaw id get one minted from the submission facts.
func (s *Service) Insert(ctx context.Context, submission Submission) (LogEntry, error) {
	if s.db == nil {
		s.logError(opInsertEntry, "missing_database", errMissingDatabase)
		return LogEntry{}, newServiceError(opInsertEntry, "missing_database", errMissingDatabase)
	}

	normalized := submission.normalized()
	if normalized.CreatedBy == "" {
		normalized.CreatedBy = normalized.Operator
	}

	fields, err := s.validateSubmission(ctx, normalized)
	if err != nil {
		s.logError(opInsertEntry, "validation_query_failed", err)
		return LogEntry{}, newServiceError(opInsertEntry, "validation_query_failed", err)
	}
	if len(fields) > 0 {
		return LogEntry{}, newServiceError(opInsertEntry, "validation_failed", &ValidationError{Fields: fields})
	}

	if isThawEvent(normalized.EventType) && normalized.ThawID == "" {
		thawID, err := s.GenerateThawID(ctx, normalized.CellLine, normalized.Operator, normalized.Date)
		if err != nil {
			return LogEntry{}, err
		}
		normalized.ThawID = thawID
	}

	entry := normalized.entry()
	entry.CreatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opInsertEntry, "insert_failed", err,
			zap.String("cell_line", entry.CellLine),
			zap.String("event_type", entry.EventType))
		return LogEntry{}, newServiceError(opInsertEntry, "insert_failed", err)
	}

	s.metrics.RecordEntryInserted(entry.EventType)
	return entry, nil
}

// Query returns log entries matching every populated filter, in chronological
// order (date, then created_at, then id). Callers wanting newest-first re-sort.
func (s *Service) Query(ctx context.Context, filter Filter) ([]LogEntry, error) {
	if s.db == nil {
		s.logError(opQueryEntries, "missing_database", errMissingDatabase)
		return nil, newServiceError(opQueryEntries, "missing_database", errMissingDatabase)
	}

	query := s.db.WithContext(ctx).Model(&LogEntry{})
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.ThawID != "" {
		query = query.Where("thaw_id = ?", filter.ThawID)
	}
	if filter.From != "" {
		query = query.Where("date >= ?", filter.From.String())
	}
	if filter.To != "" {
		query = query.Where("date <= ?", filter.To.String())
	}
	if filter.CellLineContains != "" {
		query = query.Where("LOWER(cell_line) LIKE ?", "%"+lowerTrimmed(filter.CellLineContains)+"%")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []LogEntry
	if err := query.Order("date ASC, created_at ASC, id ASC").Find(&entries).Error; err != nil {
		s.logError(opQueryEntries, "query_failed", err)
		return nil, newServiceError(opQueryEntries, "query_failed", err)
	}
	return entries, nil
}

// GetEntry loads one entry by id.
func (s *Service) GetEntry(ctx context.Context, id int64) (LogEntry, error) {
	if s.db == nil {
		s.logError(opGetEntry, "missing_database", errMissingDatabase)
		return LogEntry{}, newServiceError(opGetEntry, "missing_database", errMissingDatabase)
	}
	if id <= 0 {
		return LogEntry{}, newServiceError(opGetEntry, "invalid_id", ErrInvalidEntryID)
	}

	var entry LogEntry
	err := s.db.WithContext(ctx).Take(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LogEntry{}, newServiceError(opGetEntry, "entry_not_found", ErrEntryNotFound)
	}
	if err != nil {
		s.logError(opGetEntry, "query_failed", err, zap.Int64("entry_id", id))
		return LogEntry{}, newServiceError(opGetEntry, "query_failed", err)
	}
	return entry, nil
}

// Revisions returns the audit trail for one entry, oldest first.
func (s *Service) Revisions(ctx context.Context, entryID int64) ([]EntryRevision, error) {
	if s.db == nil {
		s.logError(opGetEntry, "missing_database", errMissingDatabase)
		return nil, newServiceError(opGetEntry, "missing_database", errMissingDatabase)
	}

	var revisions []EntryRevision
	if err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("applied_at ASC, revision_id ASC").
		Find(&revisions).Error; err != nil {
		s.logError(opGetEntry, "revision_query_failed", err, zap.Int64("entry_id", entryID))
		return nil, newServiceError(opGetEntry, "revision_query_failed", err)
	}
	return revisions, nil
}

func lowerTrimmed(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("culture service error", attrs...)
}
