package exchange

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-engine/internal/condition"
	"strategy-engine/internal/config"
	"strategy-engine/internal/token"
)

// QuoteSource 提供交易对的最新价格。
type QuoteSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Market 描述 token 对应的行情交易对与定点精度。
type Market struct {
	Token          token.Token
	Symbol         string
	TradeSymbol    string
	PriceDecimals  int32
	AmountDecimals int32
}

// Markets 按 token 索引的市场表。
type Markets map[token.Token]Market

// NewMarkets 从配置构建市场表。
func NewMarkets(cfgs []config.MarketConfig) (Markets, error) {
	out := make(Markets, len(cfgs))
	for _, m := range cfgs {
		tok, err := token.Parse(m.Token)
		if err != nil {
			return nil, fmt.Errorf("exchange: 市场 %s: %w", m.Symbol, err)
		}
		out[tok] = Market{
			Token:          tok,
			Symbol:         m.Symbol,
			TradeSymbol:    m.TradeSymbolOrDefault(),
			PriceDecimals:  m.PriceDecimals,
			AmountDecimals: m.AmountDecimals,
		}
	}
	return out, nil
}

// PriceFeed 将交易所报价转换为条件求值所需的定点价格。
type PriceFeed struct {
	source  QuoteSource
	markets Markets
	logger  *zap.Logger
	limit   int
}

// NewPriceFeed 创建价格源，limit 为并发拉取上限，<=0 表示不限制。
func NewPriceFeed(source QuoteSource, markets Markets, limit int, logger *zap.Logger) *PriceFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceFeed{
		source:  source,
		markets: markets,
		logger:  logger,
		limit:   limit,
	}
}

// Prices 并发拉取 tokens 的价格。未配置市场的 token 不出现在结果中，
// 求值时按缺失价格处理；任一已配置市场拉取失败则整体返回错误。
func (f *PriceFeed) Prices(ctx context.Context, tokens []token.Token) (condition.Prices, error) {
	prices := make(condition.Prices, len(tokens))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	if f.limit > 0 {
		group.SetLimit(f.limit)
	}

	for _, tok := range tokens {
		market, ok := f.markets[tok]
		if !ok {
			f.logger.Debug("token 未配置市场，视为无报价", zap.Stringer("token", tok))
			continue
		}
		group.Go(func() error {
			raw, err := f.source.LastPrice(groupCtx, market.Symbol)
			if err != nil {
				return fmt.Errorf("exchange: 拉取 %s 价格失败: %w", market.Symbol, err)
			}
			fixed, err := ToFixed(raw, market.PriceDecimals)
			if err != nil {
				return fmt.Errorf("exchange: %s: %w", market.Symbol, err)
			}
			mu.Lock()
			prices[tok] = fixed
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return prices, nil
}

// Market 返回 token 的市场配置。
func (f *PriceFeed) Market(tok token.Token) (Market, bool) {
	m, ok := f.markets[tok]
	return m, ok
}
