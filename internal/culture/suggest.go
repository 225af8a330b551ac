package culture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRecentLimit = 10

// nextEventByLast maps the last recorded event of a line to the event most
// likely to follow it. Keys are lower-cased; unmapped events yield no
// suggestion rather than a guess.
var nextEventByLast = map[string]string{
	"thawing":          EventTypeObservation,
	"observation":      EventTypeMediaChange,
	"media change":     EventTypeObservation,
	"split":            EventTypeObservation,
	"cryopreservation": EventTypeObservation,
}

// topValueColumns is the closed set of columns the top-values aggregation may
// group by. Anything else is refused before touching SQL.
var topValueColumns = map[string]struct{}{
	"cell_line":   {},
	"event_type":  {},
	"vessel":      {},
	"location":    {},
	"medium":      {},
	"cell_type":   {},
	"operator":    {},
	"assigned_to": {},
}

// LastEntryForCellLine returns the most recent entry for the cell line, or
// nil when the line has no history.
func (s *Service) LastEntryForCellLine(ctx context.Context, cellLine string) (*LogEntry, error) {
	if s.db == nil {
		s.logError(opLastEntry, "missing_database", errMissingDatabase)
		return nil, newServiceError(opLastEntry, "missing_database", errMissingDatabase)
	}

	var entry LogEntry
	err := s.db.WithContext(ctx).
		Where("cell_line = ?", cellLine).
		Order("date DESC, created_at DESC, id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opLastEntry, "query_failed", err, zap.String("cell_line", cellLine))
		return nil, newServiceError(opLastEntry, "query_failed", err)
	}
	return &entry, nil
}

// LastEntryForLineEvent returns the most recent entry of one event type for
// the cell line, or nil when there is none.
func (s *Service) LastEntryForLineEvent(ctx context.Context, cellLine, eventType string) (*LogEntry, error) {
	if s.db == nil {
		s.logError(opLastEntry, "missing_database", errMissingDatabase)
		return nil, newServiceError(opLastEntry, "missing_database", errMissingDatabase)
	}

	var entry LogEntry
	err := s.db.WithContext(ctx).
		Where("cell_line = ? AND event_type = ?", cellLine, eventType).
		Order("date DESC, created_at DESC, id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opLastEntry, "query_failed", err,
			zap.String("cell_line", cellLine),
			zap.String("event_type", eventType))
		return nil, newServiceError(opLastEntry, "query_failed", err)
	}
	return &entry, nil
}

// RecentEntriesForCellLine returns the newest entries for the cell line,
// newest first. A non-positive limit falls back to 10.
func (s *Service) RecentEntriesForCellLine(ctx context.Context, cellLine string, limit int) ([]LogEntry, error) {
	if s.db == nil {
		s.logError(opRecentEntries, "missing_database", errMissingDatabase)
		return nil, newServiceError(opRecentEntries, "missing_database", errMissingDatabase)
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var entries []LogEntry
	if err := s.db.WithContext(ctx).
		Where("cell_line = ?", cellLine).
		Order("date DESC, created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		s.logError(opRecentEntries, "query_failed", err, zap.String("cell_line", cellLine))
		return nil, newServiceError(opRecentEntries, "query_failed", err)
	}
	return entries, nil
}

// LatestEntryForThaw returns the most recent entry carrying the thaw id, or
// nil when the id is blank or unused.
func (s *Service) LatestEntryForThaw(ctx context.Context, thawID string) (*LogEntry, error) {
	if s.db == nil {
		s.logError(opLastEntry, "missing_database", errMissingDatabase)
		return nil, newServiceError(opLastEntry, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(thawID) == "" {
		return nil, nil
	}

	var entry LogEntry
	err := s.db.WithContext(ctx).
		Where("thaw_id = ?", thawID).
		Order("date DESC, created_at DESC, id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opLastEntry, "query_failed", err, zap.String("thaw_id", thawID))
		return nil, newServiceError(opLastEntry, "query_failed", err)
	}
	return &entry, nil
}

// PredictNextPassage proposes a passage number for the next entry of the cell
// line: last passage plus one. Lines with no history, or whose last entry has
// no positive passage, get no prediction.
func (s *Service) PredictNextPassage(ctx context.Context, cellLine string) (*int, error) {
	last, err := s.LastEntryForCellLine(ctx, cellLine)
	if err != nil {
		return nil, newServiceError(opPredictNextPassage, "lookup_failed", err)
	}
	if last == nil || last.Passage == nil || *last.Passage <= 0 {
		return nil, nil
	}
	predicted := *last.Passage + 1
	return &predicted, nil
}

// SuggestNextEvent proposes the event most likely to follow the cell line's
// last entry. Returns "" when the line has no history or the last event has
// no mapping.
func (s *Service) SuggestNextEvent(ctx context.Context, cellLine string) (string, error) {
	last, err := s.LastEntryForCellLine(ctx, cellLine)
	if err != nil {
		return "", newServiceError(opSuggestNextEvent, "lookup_failed", err)
	}
	if last == nil {
		return "", nil
	}
	return nextEventByLast[strings.ToLower(strings.TrimSpace(last.EventType))], nil
}

// TopValues aggregates the most used non-empty values of one log column,
// most frequent first. An optional cell line narrows the aggregation (except
// when grouping by cell_line itself). A non-positive limit falls back to 3.
func (s *Service) TopValues(ctx context.Context, column, cellLine string, limit int) ([]ValueCount, error) {
	if s.db == nil {
		s.logError(opTopValues, "missing_database", errMissingDatabase)
		return nil, newServiceError(opTopValues, "missing_database", errMissingDatabase)
	}
	if _, allowed := topValueColumns[column]; !allowed {
		return nil, newServiceError(opTopValues, "column_not_allowed", fmt.Errorf("%w: %q", ErrColumnNotAllowed, column))
	}
	if limit <= 0 {
		limit = 3
	}

	// column is safe to splice: it passed the closed allow list above.
	query := s.db.WithContext(ctx).
		Model(&LogEntry{}).
		Select(fmt.Sprintf("%s AS value, COUNT(*) AS tally", column)).
		Where(fmt.Sprintf("%s <> ''", column))
	if cellLine != "" && column != "cell_line" {
		query = query.Where("cell_line = ?", cellLine)
	}

	var counts []ValueCount
	if err := query.
		Group(column).
		Order("tally DESC").
		Limit(limit).
		Find(&counts).Error; err != nil {
		s.logError(opTopValues, "query_failed", err, zap.String("column", column))
		return nil, newServiceError(opTopValues, "query_failed", err)
	}
	return counts, nil
}

// EntryDefaults aggregates the per-line suggestions the entry form is primed
// with. Weekend duty is resolved through the configured DutyLookup; without
// one the assignee stays blank.
type EntryDefaults struct {
	PredictedPassage *int     `json:"predicted_passage,omitempty"`
	SuggestedEvent   string   `json:"suggested_event,omitempty"`
	LatestThawID     string   `json:"latest_thaw_id,omitempty"`
	TopMedia         []string `json:"top_media,omitempty"`
	TopCellTypes     []string `json:"top_cell_types,omitempty"`
	WeekendAssignee  string   `json:"weekend_assignee,omitempty"`
}

// EntryDefaults assembles the suggestion payload for one cell line and entry
// date. A blank cell line yields only the lab-wide aggregations.
func (s *Service) EntryDefaults(ctx context.Context, cellLine string, day EventDate) (EntryDefaults, error) {
	defaults := EntryDefaults{}

	if cellLine != "" {
		passage, err := s.PredictNextPassage(ctx, cellLine)
		if err != nil {
			return EntryDefaults{}, err
		}
		defaults.PredictedPassage = passage

		event, err := s.SuggestNextEvent(ctx, cellLine)
		if err != nil {
			return EntryDefaults{}, err
		}
		defaults.SuggestedEvent = event

		thawID, err := s.LatestThawIDForCellLine(ctx, cellLine)
		if err != nil {
			return EntryDefaults{}, err
		}
		defaults.LatestThawID = thawID
	}

	media, err := s.TopValues(ctx, "medium", cellLine, 0)
	if err != nil {
		return EntryDefaults{}, err
	}
	defaults.TopMedia = valueStrings(media)

	cellTypes, err := s.TopValues(ctx, "cell_type", cellLine, 0)
	if err != nil {
		return EntryDefaults{}, err
	}
	defaults.TopCellTypes = valueStrings(cellTypes)

	if s.duty != nil && day != "" {
		assignee, err := s.duty.AssignmentFor(ctx, day)
		if err != nil {
			s.logError(opEntryDefaults, "duty_lookup_failed", err, zap.String("date", day.String()))
			return EntryDefaults{}, newServiceError(opEntryDefaults, "duty_lookup_failed", err)
		}
		defaults.WeekendAssignee = assignee
	}

	return defaults, nil
}

func valueStrings(counts []ValueCount) []string {
	if len(counts) == 0 {
		return nil
	}
	values := make([]string, 0, len(counts))
	for _, count := range counts {
		values = append(values, count.Value)
	}
	return values
}
