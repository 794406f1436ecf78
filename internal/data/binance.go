package data

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"backlab/internal/market"
)

// BinanceSource 基于 Binance USDT 合约 REST 接口拉取 K 线。
// 不需要任何凭证，只读行情。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) (market.Series, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval required")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	out := make(market.Series, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Bar{
			Timestamp: k.OpenTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
