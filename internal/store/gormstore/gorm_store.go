package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"negotiator/internal/forecast"
	"negotiator/internal/store"
	storemodel "negotiator/internal/store/model"
	"negotiator/internal/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type historyModel = storemodel.HistoryModel
type runModel = storemodel.RunModel

const insertBatchSize = 500

// GormStore implements history and run storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB

	mu    sync.RWMutex
	runID string
}

var (
	_ store.HistoryStore  = (*GormStore)(nil)
	_ store.RunRepository = (*GormStore)(nil)
	_ forecast.Source     = (*GormStore)(nil)
)

// NewGormStore opens (or creates) the sqlite file at path and migrates the schema.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: history 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&historyModel{}, &runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB so the decision journal can share the connection.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// UseRun tags subsequently appended records with runID.
func (s *GormStore) UseRun(runID string) {
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
}

func (s *GormStore) currentRun() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// --------------------------- History ------------------------------

func (s *GormStore) Append(ctx context.Context, records []forecast.Record) error {
	if s == nil || s.db == nil || len(records) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	runID := s.currentRun()
	models := make([]historyModel, 0, len(records))
	for _, r := range records {
		models = append(models, newHistoryModel(r, runID, now))
	}
	return s.db.WithContext(ctx).CreateInBatches(models, insertBatchSize).Error
}

// Records returns every stored datapoint in insertion order.
func (s *GormStore) Records(ctx context.Context) ([]forecast.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out []forecast.Record
	var batch []historyModel
	err := s.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, insertBatchSize, func(tx *gorm.DB, _ int) error {
		for _, m := range batch {
			out = append(out, historyRecord(m))
		}
		return nil
	}).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored datapoints, restricted to runID when set.
func (s *GormStore) Count(ctx context.Context, runID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	var n int64
	q := s.db.WithContext(ctx).Model(&historyModel{})
	if runID = strings.TrimSpace(runID); runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	err := q.Count(&n).Error
	return n, err
}

func newHistoryModel(r forecast.Record, runID string, now int64) historyModel {
	meta, _ := json.Marshal(map[string]any{"key": r.Key().String()})
	return historyModel{
		RunID:             runID,
		Role:              int(r.Role),
		OwnRemaining:      r.OwnRemaining,
		OpponentLastQty:   r.OpponentLastQty,
		Step:              r.Step,
		RemainingFraction: r.RemainingFraction,
		Quantity:          r.Quantity,
		UnitPrice:         r.UnitPrice,
		MinPrice:          r.MinPrice,
		MaxPrice:          r.MaxPrice,
		Meta:              datatypes.JSON(meta),
		CreatedAtUnix:     now,
	}
}

func historyRecord(m historyModel) forecast.Record {
	return forecast.Record{
		Role:              types.Role(m.Role),
		OwnRemaining:      m.OwnRemaining,
		OpponentLastQty:   m.OpponentLastQty,
		Step:              m.Step,
		RemainingFraction: m.RemainingFraction,
		Quantity:          m.Quantity,
		UnitPrice:         m.UnitPrice,
		MinPrice:          m.MinPrice,
		MaxPrice:          m.MaxPrice,
	}
}

// --------------------------- Runs ------------------------------

// StartRun 创建一条采集记录并把后续写入的 history 归到该 run。
func (s *GormStore) StartRun(ctx context.Context, source string, params any) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("gorm store 未初始化")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode run params: %w", err)
	}
	run := runModel{
		RunID:         uuid.NewString(),
		Source:        strings.TrimSpace(source),
		ParamsJSON:    datatypes.JSON(raw),
		Status:        storemodel.RunStatusRunning,
		StartedAtUnix: time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}
	s.UseRun(run.RunID)
	return run.RunID, nil
}

func (s *GormStore) FinishRun(ctx context.Context, runID string, records int, runErr error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().UnixMilli()
	updates := map[string]any{
		"status":      storemodel.RunStatusDone,
		"records":     records,
		"finished_at": now,
	}
	if runErr != nil {
		updates["status"] = storemodel.RunStatusFailed
		updates["error"] = runErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s 不存在", runID)
	}
	if s.currentRun() == runID {
		s.UseRun("")
	}
	return nil
}

func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]runModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []runModel
	err := s.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
