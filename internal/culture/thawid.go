package culture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	thawIDPrefix          = "TH"
	fallbackCellToken     = "CELL"
	fallbackOperatorToken = "OP"
)

// cellLineToken reduces a cell line name to its alphanumeric characters,
// upper-cased. Blank names fall back to CELL so the id stays well-formed.
func cellLineToken(cellLine string) string {
	var token strings.Builder
	for _, character := range cellLine {
		if unicode.IsLetter(character) || unicode.IsDigit(character) {
			token.WriteRune(unicode.ToUpper(character))
		}
	}
	if token.Len() == 0 {
		return fallbackCellToken
	}
	return token.String()
}

// operatorInitials takes the leading character of up to two name tokens,
// splitting on whitespace and hyphens, upper-cased. Blank names fall back
// to OP.
func operatorInitials(operator string) string {
	tokens := strings.Fields(strings.ReplaceAll(operator, "-", " "))
	if len(tokens) == 0 {
		return fallbackOperatorToken
	}
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	var initials strings.Builder
	for _, token := range tokens {
		initials.WriteRune(unicode.ToUpper([]rune(token)[0]))
	}
	return initials.String()
}

// GenerateThawID mints the next identifier for a thaw performed on day:
// TH-YYYYMMDD-<cell token>-<operator initials>-NN, where NN is one past the
// number of existing ids sharing the prefix. The count-then-format window is
// not serialized; concurrent generation for identical facts can collide and
// the lab workflow accepts that.
func (s *Service) GenerateThawID(ctx context.Context, cellLine, operator string, day EventDate) (string, error) {
	if s.db == nil {
		s.logError(opGenerateThawID, "missing_database", errMissingDatabase)
		return "", newServiceError(opGenerateThawID, "missing_database", errMissingDatabase)
	}
	if _, err := NewEventDate(day.String()); err != nil {
		return "", newServiceError(opGenerateThawID, "invalid_date", err)
	}

	prefix := fmt.Sprintf("%s-%s-%s-%s", thawIDPrefix, day.Compact(), cellLineToken(cellLine), operatorInitials(operator))

	var priorCount int64
	if err := s.db.WithContext(ctx).
		Model(&LogEntry{}).
		Where("thaw_id LIKE ?", prefix+"%").
		Count(&priorCount).Error; err != nil {
		s.logError(opGenerateThawID, "count_failed", err, zap.String("prefix", prefix))
		return "", newServiceError(opGenerateThawID, "count_failed", err)
	}

	s.metrics.RecordThawIDMinted()
	return fmt.Sprintf("%s-%02d", prefix, priorCount+1), nil
}

// LatestThawIDForCellLine returns the thaw id of the most recent thaw of the
// cell line, or "" when none is on record.
func (s *Service) LatestThawIDForCellLine(ctx context.Context, cellLine string) (string, error) {
	if s.db == nil {
		s.logError(opLatestThawID, "missing_database", errMissingDatabase)
		return "", newServiceError(opLatestThawID, "missing_database", errMissingDatabase)
	}

	var entry LogEntry
	err := s.db.WithContext(ctx).
		Where("cell_line = ? AND event_type = ? AND thaw_id <> ''", cellLine, EventTypeThawing).
		Order("date DESC, created_at DESC, id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		s.logError(opLatestThawID, "query_failed", err, zap.String("cell_line", cellLine))
		return "", newServiceError(opLatestThawID, "query_failed", err)
	}
	return entry.ThawID, nil
}

// DistinctThawIDs lists every non-empty thaw id in the log, ascending.
func (s *Service) DistinctThawIDs(ctx context.Context) ([]string, error) {
	if s.db == nil {
		s.logError(opDistinctThawIDs, "missing_database", errMissingDatabase)
		return nil, newServiceError(opDistinctThawIDs, "missing_database", errMissingDatabase)
	}

	var thawIDs []string
	if err := s.db.WithContext(ctx).
		Model(&LogEntry{}).
		Distinct().
		Where("thaw_id <> ''").
		Order("thaw_id ASC").
		Pluck("thaw_id", &thawIDs).Error; err != nil {
		s.logError(opDistinctThawIDs, "query_failed", err)
		return nil, newServiceError(opDistinctThawIDs, "query_failed", err)
	}
	return thawIDs, nil
}

func (s *Service) thawIDExists(ctx context.Context, thawID string) (bool, error) {
	var matches int64
	if err := s.db.WithContext(ctx).
		Model(&LogEntry{}).
		Where("thaw_id = ?", thawID).
		Count(&matches).Error; err != nil {
		return false, err
	}
	return matches > 0, nil
}
