package data

import (
	"context"
	"fmt"

	"backlab/internal/logger"
	"backlab/internal/market"
)

// Manager 组合本地存储和远端数据源：优先用本地数据，缺口按页
// 从数据源补齐后落库。source 为 nil 时退化为纯本地读取。
type Manager struct {
	store  *Store
	source Source
}

func NewManager(store *Store, source Source) *Manager {
	return &Manager{store: store, source: source}
}

// Store 暴露底层存储（查询 manifest、直接写入等）。
func (m *Manager) Store() *Store { return m.store }

// Coverage 区间内已有/应有的 K 线数量。
func (m *Manager) Coverage(ctx context.Context, symbol, timeframe string, start, end int64) (have, want int64, err error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return 0, 0, err
	}
	start, end = tf.AlignRange(start, end)
	existing, err := m.store.ExistingTimestamps(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return 0, 0, err
	}
	return int64(len(existing)), tf.ExpectedBars(start, end), nil
}

// EnsureRange 保证区间数据在本地完整后返回。部分缺口允许存在
// （交易所停牌、上架前的空洞），只在完全无数据时报错。
func (m *Manager) EnsureRange(ctx context.Context, symbol, timeframe string, start, end int64) (market.Series, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	start, end = tf.AlignRange(start, end)

	have, want, err := m.Coverage(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return nil, err
	}
	if have < want && m.source != nil {
		if err := m.syncRange(ctx, symbol, tf, start, end); err != nil {
			return nil, err
		}
	}

	bars, err := m.store.RangeBars(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s@%s in [%d, %d]", symbol, tf.Key, start, end)
	}
	return bars, nil
}

func (m *Manager) syncRange(ctx context.Context, symbol string, tf Timeframe, start, end int64) error {
	const pageLimit = 1000
	cursor := start
	total := 0
	for cursor <= end {
		batch, err := m.source.Fetch(ctx, FetchRequest{
			Symbol:   symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      end,
			Limit:    pageLimit,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		n, err := m.store.InsertBars(ctx, symbol, tf.Key, batch)
		if err != nil {
			return err
		}
		total += n
		next := batch[len(batch)-1].Timestamp + tf.stepMillis()
		if next <= cursor {
			break // 数据源没有推进，避免死循环
		}
		cursor = next
	}
	logger.Infof("synced %d bars for %s@%s from %s", total, symbol, tf.Key, m.source.Name())
	return nil
}
