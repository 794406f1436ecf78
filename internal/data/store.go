package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backlab/internal/market"
)

// Manifest 某个 symbol@timeframe 数据文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 每个 symbol@timeframe 一个 sqlite 文件，懒打开并缓存连接。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, string, error) {
	if symbol == "" || timeframe == "" {
		return nil, "", fmt.Errorf("symbol/timeframe required")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol, timeframe), nil
	}
	path := s.dbPath(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol, timeframe string) string {
	dir := filepath.Join(s.root, strings.ToUpper(symbol))
	return filepath.Join(dir, strings.ToLower(timeframe)+".db")
}

// InsertBars 批量写入 K 线，重复时间戳覆盖。
func (s *Store) InsertBars(ctx context.Context, symbol, timeframe string, bars market.Series) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// RangeBars start~end（闭区间）内的全部 K 线，升序。
func (s *Store) RangeBars(ctx context.Context, symbol, timeframe string, start, end int64) (market.Series, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("start/end must be > 0")
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE ts BETWEEN ? AND ?
		ORDER BY ts ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows)
}

// ExistingTimestamps 指定区间内已有的时间戳，升序。
func (s *Store) ExistingTimestamps(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT ts FROM bars WHERE ts BETWEEN ? AND ? ORDER BY ts`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Manifest 读取统计信息。
func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, path, err := s.db(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,timeframe,min_time,max_time,rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// ListManifests 扫描数据目录，汇总全部 symbol@timeframe 的统计信息。
func (s *Store) ListManifests(ctx context.Context) ([]Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		symbol := entry.Name()
		files, err := os.ReadDir(filepath.Join(s.root, symbol))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".db") {
				continue
			}
			tf := strings.TrimSuffix(name, ".db")
			m, err := s.Manifest(ctx, symbol, tf)
			if err != nil {
				continue // 残缺文件跳过，不让单个坏库拖垮整个列表
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(ts), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(ts), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, symbol, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			ts     INTEGER PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(timeframe))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func scanBars(rows *sql.Rows) (market.Series, error) {
	var list market.Series
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
