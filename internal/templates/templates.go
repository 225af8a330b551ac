package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingName is returned when a template is saved without a name.
var ErrMissingName = errors.New("templates: template name required")

// EntryTemplate is a named bundle of pre-filled entry fields. The payload is
// stored verbatim as JSON and replaced wholesale on save.
type EntryTemplate struct {
	Name      string         `gorm:"column:name;primaryKey;size:190" json:"name"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (EntryTemplate) TableName() string {
	return "entry_templates"
}

// ServiceConfig describes the dependencies of the template service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages saved entry templates.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the template service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("templates: database connection required")
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

// List returns every template ordered by name.
func (s *Service) List(ctx context.Context) ([]EntryTemplate, error) {
	var stored []EntryTemplate
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("templates: list: %w", err)
	}
	return stored, nil
}

// Save stores the payload under the given name, replacing any previous payload
// wholesale. A nil payload saves as an empty object.
func (s *Service) Save(ctx context.Context, name string, payload map[string]any) (EntryTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return EntryTemplate{}, ErrMissingName
	}
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return EntryTemplate{}, fmt.Errorf("templates: encode payload: %w", err)
	}

	template := EntryTemplate{
		Name:      name,
		Payload:   datatypes.JSON(encoded),
		CreatedAt: s.clock().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at"}),
		}).
		Create(&template).Error
	if err != nil {
		return EntryTemplate{}, fmt.Errorf("templates: save %q: %w", name, err)
	}
	return template, nil
}

// Delete removes the named template. Absent names are a no-op.
func (s *Service) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Delete(&EntryTemplate{}).Error; err != nil {
		return fmt.Errorf("templates: delete %q: %w", name, err)
	}
	return nil
}
