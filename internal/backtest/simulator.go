package backtest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"strategy-engine/internal/action"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/token"
)

// Simulator 作为回测中的 Effector，按当前快照价格模拟现金与持仓变化。
// 数量单位与动作中的定点数量一致，按市场 AmountDecimals 换算。
type Simulator struct {
	markets exchange.Markets

	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[token.Token]decimal.Decimal
	lent     map[token.Token]decimal.Decimal
	debt     map[token.Token]decimal.Decimal
	prices   condition.Prices

	equityHistory []float64
	returnHistory []float64
	tradeCount    int
	rejected      int
}

func NewSimulator(initialCash float64, markets exchange.Markets) *Simulator {
	if initialCash <= 0 {
		initialCash = 10000
	}
	cash := decimal.NewFromFloat(initialCash)
	return &Simulator{
		markets:       markets,
		cash:          cash,
		holdings:      make(map[token.Token]decimal.Decimal),
		lent:          make(map[token.Token]decimal.Decimal),
		debt:          make(map[token.Token]decimal.Decimal),
		equityHistory: []float64{initialCash},
	}
}

// Advance 切换到新快照的价格。
func (s *Simulator) Advance(prices condition.Prices) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = prices
}

// Mark 以当前价格计算权益并追加到权益曲线。
func (s *Simulator) Mark() {
	s.mu.Lock()
	defer s.mu.Unlock()

	equity := s.equityLocked().InexactFloat64()
	prev := s.equityHistory[len(s.equityHistory)-1]
	if prev != 0 {
		s.returnHistory = append(s.returnHistory, equity/prev-1)
	}
	s.equityHistory = append(s.equityHistory, equity)
}

// Apply 实现 action.Effector。现金或持仓不足、缺少价格时返回 false。
func (s *Simulator) Apply(ctx context.Context, a action.Action) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount := s.amount(a.Token, a.Amount)
	held := s.holdings[a.Token]

	switch a.Kind {
	case action.KindBuy:
		price, ok := s.price(a.Token)
		if !ok {
			return s.reject(), nil
		}
		cost := amount.Mul(price)
		if s.cash.LessThan(cost) {
			return s.reject(), nil
		}
		s.cash = s.cash.Sub(cost)
		s.holdings[a.Token] = held.Add(amount)
	case action.KindSell:
		price, ok := s.price(a.Token)
		if !ok || held.LessThan(amount) {
			return s.reject(), nil
		}
		s.cash = s.cash.Add(amount.Mul(price))
		s.holdings[a.Token] = held.Sub(amount)
	case action.KindBorrow:
		s.debt[a.Token] = s.debt[a.Token].Add(amount)
		s.holdings[a.Token] = held.Add(amount)
	case action.KindRepay:
		debt := s.debt[a.Token]
		if held.LessThan(amount) || debt.LessThan(amount) {
			return s.reject(), nil
		}
		s.debt[a.Token] = debt.Sub(amount)
		s.holdings[a.Token] = held.Sub(amount)
	case action.KindLend:
		if held.LessThan(amount) {
			return s.reject(), nil
		}
		s.holdings[a.Token] = held.Sub(amount)
		s.lent[a.Token] = s.lent[a.Token].Add(amount)
	case action.KindRedeem:
		lent := s.lent[a.Token]
		if lent.LessThan(amount) {
			return s.reject(), nil
		}
		s.lent[a.Token] = lent.Sub(amount)
		s.holdings[a.Token] = held.Add(amount)
	default:
		return s.reject(), nil
	}

	s.tradeCount++
	return true, nil
}

func (s *Simulator) reject() bool {
	s.rejected++
	return false
}

func (s *Simulator) amount(tok token.Token, v uint64) decimal.Decimal {
	return exchange.FromFixed(v, s.markets[tok].AmountDecimals)
}

func (s *Simulator) price(tok token.Token) (decimal.Decimal, bool) {
	p, ok := s.prices[tok]
	if !ok {
		return decimal.Zero, false
	}
	return exchange.FromFixed(p, s.markets[tok].PriceDecimals), true
}

func (s *Simulator) equityLocked() decimal.Decimal {
	equity := s.cash
	for _, tok := range s.tokensLocked() {
		price, ok := s.price(tok)
		if !ok {
			continue
		}
		net := s.holdings[tok].Add(s.lent[tok]).Sub(s.debt[tok])
		equity = equity.Add(net.Mul(price))
	}
	return equity
}

func (s *Simulator) tokensLocked() []token.Token {
	seen := make(map[token.Token]struct{})
	var out []token.Token
	for _, m := range []map[token.Token]decimal.Decimal{s.holdings, s.lent, s.debt} {
		for tok := range m {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func (s *Simulator) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Holding 返回 token 的现货持仓数量。
func (s *Simulator) Holding(tok token.Token) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[tok]
}

func (s *Simulator) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equityHistory[len(s.equityHistory)-1]
}

func (s *Simulator) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradeCount
}

func (s *Simulator) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *Simulator) EquityHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.equityHistory...)
}

func (s *Simulator) ReturnHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.returnHistory...)
}
