package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one persisted key-value row.
// The key column is not named "key" because that is reserved in MySQL.
type Record struct {
	Key       string `gorm:"column:record_key;primaryKey;size:191"`
	Value     string
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (Record) TableName() string { return "kv_records" }

// SQLKV stores records in a relational table through gorm.
type SQLKV struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLKV wraps db. Call Migrate once before first use on a fresh database.
func NewSQLKV(db *gorm.DB, logger *zap.Logger) *SQLKV {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLKV{db: db, logger: logger.With(zap.String("component", "sql_kv"))}
}

// Migrate creates or updates the kv_records table.
func (s *SQLKV) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return storageError("migrate", Record{}.TableName(), err)
	}
	return nil
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("record_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("get failed", zap.String("key", key), zap.Error(err))
		return nil, false, storageError("get", key, err)
	}
	return []byte(rec.Value), true, nil
}

func (s *SQLKV) Set(ctx context.Context, key string, value []byte) error {
	rec := Record{Key: key, Value: string(value), UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		s.logger.Error("set failed", zap.String("key", key), zap.Error(err))
		return storageError("set", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("record_key = ?", key).Delete(&Record{}).Error; err != nil {
		s.logger.Error("delete failed", zap.String("key", key), zap.Error(err))
		return storageError("delete", key, err)
	}
	return nil
}
