package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseStore persists credential entries using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

type credentialEntry struct {
	EntryKey      string `gorm:"column:entry_key;primaryKey"`
	EntryValue    string `gorm:"column:entry_value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (credentialEntry) TableName() string {
	return "credential_entries"
}

// NewDatabaseStore opens a sqlite:// or postgres:// database and migrates the entry table.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("token_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialEntry{}); migrateErr != nil {
		return nil, fmt.Errorf("token_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// Get loads the entry stored under key.
func (store *DatabaseStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("token_store.get.%s: %w", store.driverLabel, ErrEmptyKey)
	}
	var record credentialEntry
	err := store.db.WithContext(ctx).Where("entry_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("token_store.get.%s: %w", store.driverLabel, err)
	}
	return record.EntryValue, true, nil
}

// Set upserts the entry stored under key.
func (store *DatabaseStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("token_store.set.%s: %w", store.driverLabel, ErrEmptyKey)
	}
	record := credentialEntry{
		EntryKey:      key,
		EntryValue:    value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("token_store.set.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Delete removes the entry stored under key. Missing keys are ignored.
func (store *DatabaseStore) Delete(ctx context.Context, key string) error {
	result := store.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&credentialEntry{})
	if result.Error != nil {
		return fmt.Errorf("token_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("token_store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("token_store.parse_url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("token_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("token_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
