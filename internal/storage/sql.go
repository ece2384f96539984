package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ Store = (*SQLStorage)(nil)

// profileValue is one row per (profile, key).
type profileValue struct {
	Profile   string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"column:item_key;primaryKey;size:128;index"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (profileValue) TableName() string { return "profile_values" }

// SQLStorage persists profile values in SQLite through GORM. Values are
// sealed with the encryptor when one is configured.
type SQLStorage struct {
	db        *gorm.DB
	encryptor crypto.Encryptor
}

// NewSQLStorage opens (or creates) the SQLite database at dsn and migrates it.
func NewSQLStorage(dsn string, encryptor crypto.Encryptor) (*SQLStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return NewSQLStorageFromDB(db, encryptor)
}

// NewSQLStorageFromDB wraps an existing GORM handle.
func NewSQLStorageFromDB(db *gorm.DB, encryptor crypto.Encryptor) (*SQLStorage, error) {
	if err := db.AutoMigrate(&profileValue{}); err != nil {
		return nil, fmt.Errorf("migrating profile_values: %w", err)
	}
	return &SQLStorage{db: db, encryptor: encryptor}, nil
}

func (s *SQLStorage) Get(ctx context.Context, profile, key string) (string, error) {
	var row profileValue
	err := s.db.WithContext(ctx).
		Where("profile = ? AND item_key = ?", profile, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return open(s.encryptor, row.Value)
}

func (s *SQLStorage) Set(ctx context.Context, profile, key, value string) error {
	sealed, err := seal(s.encryptor, value)
	if err != nil {
		return err
	}
	row := profileValue{Profile: profile, Key: key, Value: sealed, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	log.LogTraceWithFields("storage", "Value written", map[string]any{
		"backend": "sqlite",
		"key":     key,
	})
	return nil
}

func (s *SQLStorage) Delete(ctx context.Context, profile, key string) error {
	err := s.db.WithContext(ctx).
		Where("profile = ? AND item_key = ?", profile, key).
		Delete(&profileValue{}).Error
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *SQLStorage) ProfilesWithKey(ctx context.Context, key string) ([]string, error) {
	var profiles []string
	err := s.db.WithContext(ctx).
		Model(&profileValue{}).
		Where("item_key = ?", key).
		Order("profile").
		Pluck("profile", &profiles).Error
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	return profiles, nil
}

func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func seal(enc crypto.Encryptor, value string) (string, error) {
	if enc == nil {
		return value, nil
	}
	sealed, err := enc.Encrypt(value)
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return sealed, nil
}

func open(enc crypto.Encryptor, value string) (string, error) {
	if enc == nil {
		return value, nil
	}
	plain, err := enc.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("decrypting value: %w", err)
	}
	return plain, nil
}
