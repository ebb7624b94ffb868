package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"strategy-engine/internal/action"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/metrics"
)

const modeLive = "live"

var (
	// ErrUnsupported 表示执行端无法完成该类动作。
	ErrUnsupported = errors.New("execution: unsupported action")
	// ErrNoMarket 表示 token 未配置交易对。
	ErrNoMarket = errors.New("execution: no market for token")
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
}

// Venue 将 BUY/SELL 动作转为交易所市价单。借贷类动作没有对应的交易所接口，
// 返回 false 使序列在此终止。
type Venue struct {
	client   orderClient
	markets  exchange.Markets
	logger   *zap.Logger
	maxRetry int
	backoff  time.Duration
}

// NewVenue 创建真实下单执行器。
func NewVenue(client orderClient, markets exchange.Markets, maxRetry int, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &Venue{
		client:   client,
		markets:  markets,
		logger:   logger,
		maxRetry: maxRetry,
		backoff:  time.Second,
	}
}

// Apply 实现 action.Effector。
func (v *Venue) Apply(ctx context.Context, a action.Action) (bool, error) {
	order, err := v.buildOrderRequest(a)
	if err != nil {
		v.logger.Warn("动作无法下单",
			zap.String("kind", a.Kind.String()),
			zap.Stringer("token", a.Token),
			zap.Error(err),
		)
		return false, nil
	}

	if err := v.submitOrder(ctx, order); err != nil {
		return false, err
	}

	v.logger.Info("已提交市价单",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("amount", order.Amount),
	)
	metrics.ObserveAction(a.Kind.String(), modeLive)
	return true, nil
}

func (v *Venue) buildOrderRequest(a action.Action) (OrderRequest, error) {
	var side OrderSide
	switch a.Kind {
	case action.KindBuy:
		side = OrderSideBuy
	case action.KindSell:
		side = OrderSideSell
	default:
		return OrderRequest{}, fmt.Errorf("%w: %s", ErrUnsupported, a.Kind)
	}

	market, ok := v.markets[a.Token]
	if !ok {
		return OrderRequest{}, fmt.Errorf("%w: %s", ErrNoMarket, a.Token)
	}
	if a.Amount == 0 {
		return OrderRequest{}, fmt.Errorf("execution: %s 数量为 0", a.Kind)
	}

	amount := exchange.FromFixed(a.Amount, market.AmountDecimals).InexactFloat64()
	return OrderRequest{
		Action: a,
		Symbol: market.TradeSymbol,
		Side:   side,
		Amount: amount,
		Params: map[string]interface{}{"reduceOnly": side == OrderSideSell},
	}, nil
}

func (v *Venue) submitOrder(ctx context.Context, order OrderRequest) error {
	var err error
	for attempt := 1; attempt <= v.maxRetry; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		_, err = v.client.CreateMarketOrder(order.Symbol, string(order.Side), order.Amount,
			ccxt.WithCreateMarketOrderParams(order.Params))
		if err == nil {
			return nil
		}

		if !exchange.IsRetryable(err) {
			return err
		}
		if attempt == v.maxRetry {
			break
		}

		wait := time.Duration(attempt) * v.backoff
		v.logger.Warn("下单失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("execution: 重试后仍下单失败: %w", err)
}
