package database

import (
	"fmt"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/catalog"
	"github.com/PolarisBioLab/stemtrack/internal/culture"
	"github.com/PolarisBioLab/stemtrack/internal/operators"
	"github.com/PolarisBioLab/stemtrack/internal/schedule"
	"github.com/PolarisBioLab/stemtrack/internal/templates"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// referenceSeeds lists the catalog values every fresh deployment starts with.
// Seeding is idempotent, lab-added values are never touched.
var referenceSeeds = []struct {
	kind   catalog.Kind
	values []string
}{
	{catalog.KindEventType, []string{
		culture.EventTypeObservation,
		culture.EventTypeMediaChange,
		culture.EventTypeSplit,
		culture.EventTypeThawing,
		culture.EventTypeCryopreservation,
		culture.EventTypeOther,
	}},
	{catalog.KindCellType, []string{"iPSC", "NPC", "Cardiomyocyte"}},
	{catalog.KindCultureMedium, []string{"StemFlex", "mTeSR1", "E8"}},
}

// OpenSQLite establishes a SQLite connection, migrates the schema, applies
// pending data migrations and seeds the reference catalogs.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&culture.LogEntry{},
		&culture.EntryRevision{},
		&operators.Operator{},
		&schedule.WeekendAssignment{},
		&templates.EntryTemplate{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}
	for _, kind := range catalog.Kinds() {
		table, err := kind.Table()
		if err != nil {
			return nil, err
		}
		if err := db.Table(table).AutoMigrate(&catalog.ReferenceValue{}); err != nil {
			return nil, err
		}
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}
	if err := seedReferenceValues(db); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func seedReferenceValues(db *gorm.DB) error {
	now := time.Now().UTC()
	for _, seed := range referenceSeeds {
		table, err := seed.kind.Table()
		if err != nil {
			return err
		}
		for _, value := range seed.values {
			row := catalog.ReferenceValue{Name: value, CreatedAt: now}
			if err := db.Table(table).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
