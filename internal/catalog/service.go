package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages the six reference-value catalogs.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("catalog: database connection required")
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

// List returns the catalog's values, ascending by name.
func (s *Service) List(ctx context.Context, kind Kind) ([]string, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}

	var names []string
	if err := s.db.WithContext(ctx).Table(table).
		Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", kind, err)
	}
	return names, nil
}

// Add inserts a value into the catalog. Adding an existing value is a no-op,
// not a conflict.
func (s *Service) Add(ctx context.Context, kind Kind, name string) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrMissingName
	}

	value := ReferenceValue{Name: name, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Table(table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&value).Error; err != nil {
		return fmt.Errorf("catalog: add %s to %s: %w", name, kind, err)
	}
	return nil
}

// Rename changes a value in place. Existing log entries keep the old string;
// renames never cascade. Renaming an absent value is a no-op.
func (s *Service) Rename(ctx context.Context, kind Kind, oldName, newName string) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return ErrMissingName
	}

	if err := s.db.WithContext(ctx).Table(table).
		Where("name = ?", oldName).
		Update("name", newName).Error; err != nil {
		return fmt.Errorf("catalog: rename %s to %s in %s: %w", oldName, newName, kind, err)
	}
	return nil
}

// Delete removes a value. Log entries referencing it are untouched; deleting
// an absent value succeeds.
func (s *Service) Delete(ctx context.Context, kind Kind, name string) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Table(table).
		Where("name = ?", strings.TrimSpace(name)).
		Delete(&ReferenceValue{}).Error; err != nil {
		return fmt.Errorf("catalog: delete %s from %s: %w", name, kind, err)
	}
	return nil
}
