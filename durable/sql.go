package durable

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tableName = "habitcache_entries"

type record struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:255"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (record) TableName() string { return tableName }

// SQLStore keeps entries in one table through gorm. maxRows caps the number of
// rows; inserting past it returns ErrQuota, overwriting an existing key never does.
type SQLStore struct {
	name    string
	db      *gorm.DB
	maxRows int64
	owned   bool
}

// NewSQLStore migrates the entries table on db. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, name string, db *gorm.DB, maxRows int64) (*SQLStore, error) {
	if name == "" {
		name = "sql"
	}
	if err := db.WithContext(ctx).AutoMigrate(&record{}); err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	return &SQLStore{name: name, db: db, maxRows: maxRows}, nil
}

func (s *SQLStore) Name() string { return s.name }

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ErrUnavailable.Wrap(err)
	}
	return rec.Payload, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.maxRows > 0 {
			var exists int64
			if err := tx.Model(&record{}).Where("cache_key = ?", key).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				var rows int64
				if err := tx.Model(&record{}).Count(&rows).Error; err != nil {
					return err
				}
				if rows >= s.maxRows {
					return ErrQuota.WithData("key", key).WithData("max_rows", s.maxRows)
				}
			}
		}
		rec := record{Key: key, Payload: value, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
	if err == nil || errors.Is(err, ErrQuota) {
		return err
	}
	return ErrUnavailable.Wrap(err)
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&record{}).Error; err != nil {
		return ErrUnavailable.Wrap(err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&record{}).Order("cache_key").Pluck("cache_key", &keys).Error; err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	return keys, nil
}

// Ping checks the underlying connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ErrUnavailable.Wrap(err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
