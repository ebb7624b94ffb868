package backtest

import (
	"context"
	"time"

	"strategy-engine/internal/condition"
	"strategy-engine/internal/exchange"
)

// Snapshot 为某一时刻各 token 的定点价格。
type Snapshot struct {
	Time   time.Time
	Prices condition.Prices
}

// SnapshotProvider 按时间顺序提供价格快照。
type SnapshotProvider interface {
	Next(ctx context.Context) (Snapshot, bool, error)
}

// CandleSource 提供历史K线，由 exchange.Client 实现。
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error)
}
