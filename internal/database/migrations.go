package database

import (
	"errors"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeUnassignedPlaceholder = "2025-11-12_normalize_unassigned_placeholder"
	migrationBackfillCreatedBy              = "2025-11-12_backfill_created_by_from_operator"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeUnassignedPlaceholder, apply: normalizeUnassignedPlaceholder},
		{name: migrationBackfillCreatedBy, apply: backfillCreatedBy},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early clients stored the assignee dropdown placeholder verbatim. Blank
// means unassigned everywhere else, so imported rows are normalized once.
func normalizeUnassignedPlaceholder(db *gorm.DB) error {
	return db.Model(&culture.LogEntry{}).
		Where("assigned_to = ?", "(unassigned)").
		Update("assigned_to", "").Error
}

// Rows imported from before the created_by column existed inherit the
// recording operator as their creator.
func backfillCreatedBy(db *gorm.DB) error {
	return db.Model(&culture.LogEntry{}).
		Where("created_by IS NULL OR created_by = ''").
		Update("created_by", gorm.Expr("operator")).Error
}
