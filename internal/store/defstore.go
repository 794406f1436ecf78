// Package store 持久化用户提交的声明式策略定义（gorm + sqlite）。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"backlab/internal/strategy"
)

// ErrNotFound 定义不存在。
var ErrNotFound = errors.New("strategy definition not found")

// DefinitionRecord 一条已保存的策略定义。
type DefinitionRecord struct {
	ID         string         `gorm:"primaryKey;size:128" json:"id"`
	Name       string         `gorm:"size:256" json:"name"`
	Definition datatypes.JSON `json:"definition"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (DefinitionRecord) TableName() string { return "strategy_definitions" }

// DefStore 策略定义的 gorm 存储。
type DefStore struct {
	db *gorm.DB
}

func NewDefStore(path string) (*DefStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("definition store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DefinitionRecord{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &DefStore{db: db}, nil
}

func (s *DefStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save 校验后写入（同 ID 覆盖）。
func (s *DefStore) Save(ctx context.Context, raw string) (DefinitionRecord, error) {
	if err := strategy.ValidateDefinitionJSON(raw); err != nil {
		return DefinitionRecord{}, err
	}
	var def strategy.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return DefinitionRecord{}, err
	}
	rec := DefinitionRecord{
		ID:         def.ID,
		Name:       def.Name,
		Definition: datatypes.JSON(raw),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "definition", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return DefinitionRecord{}, err
	}
	return s.Get(ctx, def.ID)
}

func (s *DefStore) Get(ctx context.Context, id string) (DefinitionRecord, error) {
	var rec DefinitionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefinitionRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *DefStore) List(ctx context.Context, limit int) ([]DefinitionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var out []DefinitionRecord
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *DefStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&DefinitionRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Strategy 把已保存的定义变成可评估策略。
func (s *DefStore) Strategy(ctx context.Context, id string) (strategy.Strategy, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var def strategy.Definition
	if err := json.Unmarshal(rec.Definition, &def); err != nil {
		return nil, err
	}
	return strategy.NewComposable(def)
}
