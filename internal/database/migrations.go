package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupePersonalDefaults = "2026-07-14_dedupe_personal_defaults"

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
		{name: migrationDedupePersonalDefaults, apply: dedupePersonalDefaults},
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

// dedupePersonalDefaults repairs rows written before default demotion ran
// inside the save transaction: each (table, user) keeps a single default
// perspective, the newest row winning.
func dedupePersonalDefaults(db *gorm.DB) error {
	const repair = `
UPDATE perspectives SET is_default = 0
WHERE is_default = 1
  AND rowid NOT IN (
    SELECT MAX(rowid) FROM perspectives
    WHERE is_default = 1
    GROUP BY table_id, user_id
  );`
	return db.Exec(repair).Error
}
