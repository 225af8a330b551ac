package operators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMissingUsername indicates an operator operation without a usable name.
var ErrMissingUsername = errors.New("operators: username required")

// palette holds the colors handed out round-robin to operators without one.
// Appending is safe; reordering shifts future assignments only, existing
// colors are persisted.
var palette = []string{
	"#1f77b4",
	"#ff7f0e",
	"#2ca02c",
	"#d62728",
	"#9467bd",
	"#8c564b",
	"#e377c2",
	"#7f7f7f",
	"#bcbd22",
	"#17becf",
}

// ServiceConfig describes the dependencies of the operator registry.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages the operator registry and its color assignments.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the operator registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("operators: database connection required")
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

// GetOrCreate returns the operator, creating it on first registration. For an
// existing operator a differing non-empty color overwrites the stored one;
// display name changes are ignored.
func (s *Service) GetOrCreate(ctx context.Context, username, displayName, colorHex string) (Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Operator{}, ErrMissingUsername
	}
	colorHex = strings.TrimSpace(colorHex)

	var operator Operator
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&operator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		displayName = strings.TrimSpace(displayName)
		if displayName == "" {
			displayName = username
		}
		operator = Operator{
			Username:    username,
			DisplayName: displayName,
			ColorHex:    colorHex,
			CreatedAt:   s.clock().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&operator).Error; err != nil {
			return Operator{}, fmt.Errorf("operators: create %s: %w", username, err)
		}
		return operator, nil
	}
	if err != nil {
		return Operator{}, fmt.Errorf("operators: lookup %s: %w", username, err)
	}

	if colorHex != "" && colorHex != operator.ColorHex {
		if err := s.db.WithContext(ctx).Model(&Operator{}).
			Where("username = ?", username).
			Update("color_hex", colorHex).Error; err != nil {
			return Operator{}, fmt.Errorf("operators: recolor %s: %w", username, err)
		}
		operator.ColorHex = colorHex
	}
	return operator, nil
}

// Delete removes an operator. Log entries keep their operator strings; a
// blank username is a no-op, and deleting an unknown operator succeeds.
func (s *Service) Delete(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("username = ?", username).Delete(&Operator{}).Error; err != nil {
		return fmt.Errorf("operators: delete %s: %w", username, err)
	}
	return nil
}

// UpdateColor sets the operator's color, blank included. Unknown or blank
// usernames are a no-op.
func (s *Service) UpdateColor(ctx context.Context, username, colorHex string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&Operator{}).
		Where("username = ?", username).
		Update("color_hex", strings.TrimSpace(colorHex)).Error; err != nil {
		return fmt.Errorf("operators: recolor %s: %w", username, err)
	}
	return nil
}

// List returns all usernames, ascending.
func (s *Service) List(ctx context.Context) ([]string, error) {
	var usernames []string
	if err := s.db.WithContext(ctx).Model(&Operator{}).
		Order("username ASC").
		Pluck("username", &usernames).Error; err != nil {
		return nil, fmt.Errorf("operators: list: %w", err)
	}
	return usernames, nil
}

// ListWithColors returns all operators ascending by username, assigning
// palette colors to any uncolored rows first. Assignment continues the
// round-robin where the already colored rows left off and is persisted, so
// repeat listings return identical colors.
func (s *Service) ListWithColors(ctx context.Context) ([]Operator, error) {
	var all []Operator
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("operators: list with colors: %w", err)
	}

	colored := 0
	for _, operator := range all {
		if operator.ColorHex != "" {
			colored++
		}
	}

	assigned := 0
	for i := range all {
		if all[i].ColorHex != "" {
			continue
		}
		color := palette[(colored+assigned)%len(palette)]
		if err := s.db.WithContext(ctx).Model(&Operator{}).
			Where("username = ?", all[i].Username).
			Update("color_hex", color).Error; err != nil {
			return nil, fmt.Errorf("operators: assign color to %s: %w", all[i].Username, err)
		}
		s.logger.Info("assigned operator color",
			zap.String("username", all[i].Username),
			zap.String("color", color))
		all[i].ColorHex = color
		assigned++
	}
	return all, nil
}
