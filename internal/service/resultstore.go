package service

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

	_ "modernc.org/sqlite"

	"backlab/internal/engine"
	"backlab/internal/perform"
)

// ResultStore 管理 backtest_runs/trades/equity 三张表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbols TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			initial_capital REAL NOT NULL,
			final_capital REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			sharpe REAL NOT NULL DEFAULT 0,
			trade_count INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			summary_json TEXT,
			warnings_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			entry_time INTEGER NOT NULL,
			exit_price REAL NOT NULL,
			exit_time INTEGER NOT NULL,
			commission REAL NOT NULL,
			pnl REAL NOT NULL,
			return_pct REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入 pending 状态的 run。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, strategy, symbols, timeframe, status, start_ts, end_ts, initial_capital,
			 config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, strings.Join(run.Symbols, ","), run.Timeframe, run.Status,
		run.StartTS, run.EndTS, run.InitialCapital, string(cfgJSON), run.Message, now, now)
	return err
}

// UpdateRunStatus 只改状态和提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	var completed any
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// CompleteRun 落盘结果：run 汇总 + 全部成交 + 资金曲线，单事务。
func (s *ResultStore) CompleteRun(ctx context.Context, id string, res *engine.Result, summary perform.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	var warningsJSON any
	if len(res.Warnings) > 0 {
		raw, err := json.Marshal(res.Warnings)
		if err != nil {
			return err
		}
		warningsJSON = string(raw)
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_capital=?, total_return=?, max_drawdown=?, sharpe=?, trade_count=?,
		    summary_json=?, warnings_json=?, updated_at=?, completed_at=?
		WHERE id=?`,
		RunStatusDone, res.FinalCapital, summary.TotalReturn, summary.MaxDrawdown, summary.Sharpe,
		len(res.Trades), string(summaryJSON), warningsJSON, now, now, id); err != nil {
		return err
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, symbol, side, quantity, entry_price, entry_time, exit_price, exit_time,
			 commission, pnl, return_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for _, tr := range res.Trades {
		if _, err := tradeStmt.ExecContext(ctx, id, tr.Symbol, tr.Side, tr.Quantity,
			tr.EntryPrice, tr.EntryTime, tr.ExitPrice, tr.ExitTime,
			tr.Commission, tr.PnL, tr.ReturnPct); err != nil {
			return err
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, ts, equity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()
	for _, pt := range res.EquityCurve {
		if _, err := eqStmt.ExecContext(ctx, id, pt.Timestamp, pt.Equity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRuns 按创建时间倒序。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, symbols, timeframe, status, start_ts, end_ts, initial_capital,
		       final_capital, trade_count, config_json, summary_json, warnings_json, message,
		       created_at, updated_at, completed_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, symbols, timeframe, status, start_ts, end_ts, initial_capital,
		       final_capital, trade_count, config_json, summary_json, warnings_json, message,
		       created_at, updated_at, completed_at
		FROM backtest_runs WHERE id=?`, id)
	return scanRun(row)
}

// ListTrades run 的全部成交，入场顺序。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]engine.Trade, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, quantity, entry_price, entry_time, exit_price, exit_time,
		       commission, pnl, return_pct
		FROM backtest_trades
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.Trade
	for rows.Next() {
		var tr engine.Trade
		if err := rows.Scan(&tr.Symbol, &tr.Side, &tr.Quantity, &tr.EntryPrice, &tr.EntryTime,
			&tr.ExitPrice, &tr.ExitTime, &tr.Commission, &tr.PnL, &tr.ReturnPct); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListEquity run 的资金曲线，时间升序。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]engine.EquityPoint, error) {
	if limit <= 0 || limit > 20_000 {
		limit = 5_000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity FROM backtest_equity
		WHERE run_id=?
		ORDER BY ts ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.EquityPoint
	for rows.Next() {
		var pt engine.EquityPoint
		if err := rows.Scan(&pt.Timestamp, &pt.Equity); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var symbols, cfgStr string
	var summaryStr, warningsStr sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Strategy, &symbols, &run.Timeframe, &run.Status,
		&run.StartTS, &run.EndTS, &run.InitialCapital, &run.FinalCapital, &run.TradeCount,
		&cfgStr, &summaryStr, &warningsStr, &run.Message, &createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	if symbols != "" {
		run.Symbols = strings.Split(symbols, ",")
	}
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if summaryStr.Valid && summaryStr.String != "" {
		if err := json.Unmarshal([]byte(summaryStr.String), &run.Summary); err != nil {
			return Run{}, err
		}
	}
	if warningsStr.Valid && warningsStr.String != "" {
		if err := json.Unmarshal([]byte(warningsStr.String), &run.Warnings); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
