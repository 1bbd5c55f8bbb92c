package database

import (
	"errors"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClearBlankAccountEmails        = "2026-10-01_clear_blank_account_emails"
	migrationMarkExternallyManagedPasswords = "2026-10-01_mark_externally_managed_passwords"
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
		{name: migrationClearBlankAccountEmails, apply: clearBlankAccountEmails},
		{name: migrationMarkExternallyManagedPasswords, apply: markExternallyManagedPasswords},
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

// clearBlankAccountEmails empties whitespace-only emails so they fall outside
// the partial unique index on email.
func clearBlankAccountEmails(db *gorm.DB) error {
	return db.Model(&accounts.Account{}).
		Where("email <> '' AND trim(email) = ''").
		Update("email", "").Error
}

// markExternallyManagedPasswords stamps linked records that never received a
// local hash, matching what just-in-time provisioning writes.
func markExternallyManagedPasswords(db *gorm.DB) error {
	return db.Model(&accounts.Account{}).
		Where("hashed_password = '' AND external_id <> ''").
		Update("hashed_password", accounts.ExternallyManagedPassword).Error
}
