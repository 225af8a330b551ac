package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WeekendAssignment maps one calendar date to a duty assignee. One row per
// date; upserts overwrite, no per-date history.
type WeekendAssignment struct {
	Date       culture.EventDate `gorm:"column:date;primaryKey;size:10" json:"date"`
	AssignedTo string            `gorm:"column:assigned_to;size:190" json:"assigned_to"`
	Notes      string            `gorm:"column:notes;type:text" json:"notes,omitempty"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (WeekendAssignment) TableName() string {
	return "weekend_schedule"
}

// ServiceConfig describes the dependencies of the schedule service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages the weekend duty schedule.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the schedule service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("schedule: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Upsert writes the assignee and notes for each date, last write wins. Every
// date is validated before any row is touched.
func (s *Service) Upsert(ctx context.Context, dates []culture.EventDate, assignee, notes string) error {
	normalized := make([]culture.EventDate, 0, len(dates))
	for _, date := range dates {
		day, err := culture.NewEventDate(date.String())
		if err != nil {
			return fmt.Errorf("schedule: upsert: %w", err)
		}
		normalized = append(normalized, day)
	}
	assignee = strings.TrimSpace(assignee)
	notes = strings.TrimSpace(notes)

	for _, day := range normalized {
		updatedAt := s.clock().UTC()
		result := s.db.WithContext(ctx).Model(&WeekendAssignment{}).
			Where("date = ?", day.String()).
			Updates(map[string]any{
				"assigned_to": assignee,
				"notes":       notes,
				"updated_at":  updatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("schedule: update %s: %w", day, result.Error)
		}
		if result.RowsAffected > 0 {
			continue
		}
		assignment := WeekendAssignment{
			Date:       day,
			AssignedTo: assignee,
			Notes:      notes,
			UpdatedAt:  updatedAt,
		}
		if err := s.db.WithContext(ctx).Create(&assignment).Error; err != nil {
			return fmt.Errorf("schedule: insert %s: %w", day, err)
		}
	}
	return nil
}

// Delete removes the assignment for one date. Absent dates are a no-op.
func (s *Service) Delete(ctx context.Context, date culture.EventDate) error {
	if err := s.db.WithContext(ctx).
		Where("date = ?", date.String()).
		Delete(&WeekendAssignment{}).Error; err != nil {
		return fmt.Errorf("schedule: delete %s: %w", date, err)
	}
	return nil
}

// Range returns assignments between from and to inclusive, date ascending.
// Zero bounds leave that side open.
func (s *Service) Range(ctx context.Context, from, to culture.EventDate) ([]WeekendAssignment, error) {
	query := s.db.WithContext(ctx).Model(&WeekendAssignment{})
	if from != "" {
		query = query.Where("date >= ?", from.String())
	}
	if to != "" {
		query = query.Where("date <= ?", to.String())
	}

	var assignments []WeekendAssignment
	if err := query.Order("date ASC").Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("schedule: range: %w", err)
	}
	return assignments, nil
}

// AssignmentFor returns the duty assignee for exactly this date, "" when the
// date is unassigned or its assignee is blank. Adjacent dates never match.
func (s *Service) AssignmentFor(ctx context.Context, day culture.EventDate) (string, error) {
	var assignment WeekendAssignment
	err := s.db.WithContext(ctx).
		Where("date = ?", day.String()).
		Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("schedule: assignment for %s: %w", day, err)
	}
	return strings.TrimSpace(assignment.AssignedTo), nil
}
