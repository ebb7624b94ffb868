package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"strategy-engine/internal/condition"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/strategy"
	"strategy-engine/internal/token"
)

// SliceSnapshotProvider 以固定序列提供快照。
type SliceSnapshotProvider struct {
	snapshots []Snapshot
	index     int
}

func NewSliceSnapshotProvider(snaps []Snapshot) *SliceSnapshotProvider {
	return &SliceSnapshotProvider{snapshots: snaps}
}

func (p *SliceSnapshotProvider) Next(ctx context.Context) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	if p.index >= len(p.snapshots) {
		return Snapshot{}, false, nil
	}
	snap := p.snapshots[p.index]
	p.index++
	return snap, true, nil
}

// LoadStrategySnapshots 为策略条件与动作引用的全部 token 加载快照。
// 只加载条件 token 时，动作 token 缺价会使模拟撮合全部被拒绝。
func LoadStrategySnapshots(ctx context.Context, src CandleSource, markets exchange.Markets, s *strategy.Strategy, timeframe string, limit int64) ([]Snapshot, error) {
	return LoadCandleSnapshots(ctx, src, markets, s.Tokens(), timeframe, limit)
}

// LoadCandleSnapshots 拉取 tokens 对应交易对的K线，按时间戳对齐收盘价生成快照。
// 某一时刻缺少的 token 不出现在该快照中，求值时按缺失价格处理。
func LoadCandleSnapshots(ctx context.Context, src CandleSource, markets exchange.Markets, tokens []token.Token, timeframe string, limit int64) ([]Snapshot, error) {
	byTime := make(map[int64]condition.Prices)
	for _, tok := range tokens {
		market, ok := markets[tok]
		if !ok {
			return nil, fmt.Errorf("backtest: token %s 未配置市场", tok)
		}
		candles, err := src.FetchCandles(ctx, market.Symbol, timeframe, limit)
		if err != nil {
			return nil, fmt.Errorf("backtest: 拉取 %s K线失败: %w", market.Symbol, err)
		}
		for _, c := range candles {
			price, err := exchange.ToFixed(c.Close, market.PriceDecimals)
			if err != nil {
				return nil, err
			}
			ts := c.Timestamp.Unix()
			prices, ok := byTime[ts]
			if !ok {
				prices = make(condition.Prices, len(tokens))
				byTime[ts] = prices
			}
			prices[tok] = price
		}
	}

	stamps := make([]int64, 0, len(byTime))
	for ts := range byTime {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	out := make([]Snapshot, 0, len(stamps))
	for _, ts := range stamps {
		out = append(out, Snapshot{Time: time.Unix(ts, 0).UTC(), Prices: byTime[ts]})
	}
	return out, nil
}
