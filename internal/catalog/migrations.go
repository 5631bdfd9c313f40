package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Migration is one schema step.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// MigrationRecord tracks an applied migration.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the migration table name.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// AllMigrations returns the catalog schema steps in order.
func AllMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Create captures and replay_runs",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Capture{}, &ReplayRun{})
			},
		},
	}
}

// Migrate applies pending migrations, each in its own transaction.
func Migrate(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}

	var records []MigrationRecord
	if err := db.WithContext(ctx).Find(&records).Error; err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = true
	}

	migrations := AllMigrations()
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		logger.InfoContext(ctx, "applying migration",
			slog.String("version", m.Version),
			slog.String("description", m.Description))

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     m.Version,
				Description: m.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Version, err)
		}
	}
	return nil
}
