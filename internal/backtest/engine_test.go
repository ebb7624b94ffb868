package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"strategy-engine/internal/action"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/strategy"
	"strategy-engine/internal/token"
)

var (
	solToken  = token.MustParse("So11111111111111111111111111111111111111112")
	usdcToken = token.MustParse("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testMarkets() exchange.Markets {
	return exchange.Markets{
		solToken: {Token: solToken, Symbol: "SOL/USDT:USDT", PriceDecimals: 2, AmountDecimals: 3},
	}
}

// dipBuyer 在 SOL 低于 100 时买入 1 SOL。
func dipBuyer(t *testing.T, every uint64) *strategy.Vault {
	t.Helper()
	cond, err := condition.PriceBelow(solToken, 10000).Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	act, err := action.Buy(solToken, 1000).Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	s, err := strategy.New(cond, act, every)
	if err != nil {
		t.Fatalf("strategy.New returned error: %v", err)
	}
	return strategy.NewVault(s)
}

func series(step time.Duration, prices ...uint64) []Snapshot {
	out := make([]Snapshot, 0, len(prices))
	for i, p := range prices {
		out = append(out, Snapshot{
			Time:   start.Add(time.Duration(i) * step),
			Prices: condition.Prices{solToken: p},
		})
	}
	return out
}

func TestEngineReplaysVault(t *testing.T) {
	vault := dipBuyer(t, 3600)
	provider := NewSliceSnapshotProvider(series(time.Hour, 12000, 9000, 9500, 11000))

	engine, err := NewEngine(Config{InitialCash: 10000, Markets: testMarkets()}, provider, vault, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	res, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if res.Steps != 4 || res.Triggers != 2 || res.Executions != 2 || res.Trades != 2 || res.Skipped != 0 {
		t.Fatalf("unexpected counters %+v", res)
	}
	want := []float64{10000, 10000, 10000, 10005, 10035}
	if len(res.EquityCurve) != len(want) {
		t.Fatalf("unexpected equity curve %v", res.EquityCurve)
	}
	for i := range want {
		if math.Abs(res.EquityCurve[i]-want[i]) > 1e-9 {
			t.Fatalf("equity[%d]: got %v want %v", i, res.EquityCurve[i], want[i])
		}
	}
	if res.FinalEquity != 10035 {
		t.Fatalf("unexpected final equity %v", res.FinalEquity)
	}
	if got := engine.Simulator().Holding(solToken).String(); got != "2" {
		t.Fatalf("expected 2 SOL held, got %s", got)
	}
	if got := engine.Simulator().Cash().String(); got != "9815" {
		t.Fatalf("expected cash 9815, got %s", got)
	}

	if vault.Strategy.LastExecutedAt != 0 {
		t.Fatalf("caller's vault must not be modified")
	}
	if engine.Vault().Strategy.LastExecutedAt != start.Add(2*time.Hour).Unix() {
		t.Fatalf("replayed vault should record the last run")
	}
}

func TestEngineHonoursInterval(t *testing.T) {
	provider := NewSliceSnapshotProvider(series(30*time.Minute, 9000, 9000, 9000))
	engine, err := NewEngine(Config{Markets: testMarkets()}, provider, dipBuyer(t, 3600), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	res, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Skipped != 1 || res.Executions != 2 {
		t.Fatalf("expected 1 skip and 2 executions, got %+v", res)
	}
}

func TestEngineRejectsWhenCashRunsOut(t *testing.T) {
	provider := NewSliceSnapshotProvider(series(time.Hour, 9000, 9000))
	engine, err := NewEngine(Config{InitialCash: 100, Markets: testMarkets()}, provider, dipBuyer(t, 0), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	res, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Triggers != 2 || res.Executions != 1 || res.Rejected != 1 {
		t.Fatalf("unexpected counters %+v", res)
	}
	if engine.Vault().Strategy.LastExecutedAt != start.Unix() {
		t.Fatalf("rejected run must not advance the schedule")
	}
}

func TestEngineTimeRange(t *testing.T) {
	provider := NewSliceSnapshotProvider(series(time.Hour, 9000, 9000, 9000, 9000))
	cfg := Config{
		Markets:   testMarkets(),
		StartTime: start.Add(time.Hour),
		EndTime:   start.Add(2 * time.Hour),
	}
	engine, err := NewEngine(cfg, provider, dipBuyer(t, 0), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	res, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Steps != 2 {
		t.Fatalf("expected 2 steps in range, got %d", res.Steps)
	}
}

func TestSimulatorLendingCycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(1000, testMarkets())
	sim.Advance(condition.Prices{solToken: 10000})

	steps := []struct {
		a    action.Action
		want bool
	}{
		{action.Action{Kind: action.KindRepay, Token: solToken, Amount: 1000}, false},
		{action.Action{Kind: action.KindBorrow, Token: solToken, Amount: 2000}, true},
		{action.Action{Kind: action.KindLend, Token: solToken, Amount: 1500}, true},
		{action.Action{Kind: action.KindSell, Token: solToken, Amount: 1000}, false},
		{action.Action{Kind: action.KindRedeem, Token: solToken, Amount: 1500}, true},
		{action.Action{Kind: action.KindRepay, Token: solToken, Amount: 2000}, true},
		{action.Action{Kind: action.KindBuy, Token: usdcToken, Amount: 1}, false},
	}
	for i, step := range steps {
		ok, err := sim.Apply(ctx, step.a)
		if err != nil {
			t.Fatalf("step %d: Apply returned error: %v", i, err)
		}
		if ok != step.want {
			t.Fatalf("step %d (%s): got %v want %v", i, step.a.Kind, ok, step.want)
		}
	}
	sim.Mark()
	if sim.Equity() != 1000 {
		t.Fatalf("borrow/repay cycle must be equity neutral, got %v", sim.Equity())
	}
	if sim.TradeCount() != 4 || sim.Rejected() != 3 {
		t.Fatalf("unexpected counters trades=%d rejected=%d", sim.TradeCount(), sim.Rejected())
	}
}

type fakeCandles map[string][]exchange.Candle

func (f fakeCandles) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error) {
	c, ok := f[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return c, nil
}

func TestLoadCandleSnapshots(t *testing.T) {
	markets := testMarkets()
	markets[usdcToken] = exchange.Market{Token: usdcToken, Symbol: "USDC/USDT", PriceDecimals: 4}

	src := fakeCandles{
		"SOL/USDT:USDT": {
			{Timestamp: start.Add(time.Hour), Close: 101.5},
			{Timestamp: start, Close: 100.25},
		},
		"USDC/USDT": {
			{Timestamp: start, Close: 0.9998},
		},
	}

	snaps, err := LoadCandleSnapshots(context.Background(), src, markets, []token.Token{solToken, usdcToken}, "1h", 10)
	if err != nil {
		t.Fatalf("LoadCandleSnapshots returned error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if !snaps[0].Time.Equal(start) || snaps[0].Prices[solToken] != 10025 || snaps[0].Prices[usdcToken] != 9998 {
		t.Fatalf("unexpected first snapshot %+v", snaps[0])
	}
	if _, ok := snaps[1].Prices[usdcToken]; ok {
		t.Fatalf("missing candle must leave the price absent")
	}
	if snaps[1].Prices[solToken] != 10150 {
		t.Fatalf("unexpected second snapshot %+v", snaps[1])
	}

	unknown := token.MustParse("11111111111111111111111111111111")
	if _, err := LoadCandleSnapshots(context.Background(), src, markets, []token.Token{unknown}, "1h", 10); err == nil {
		t.Fatalf("expected error for token without market")
	}
}

func TestCalculateMetrics(t *testing.T) {
	m := calculateMetrics([]float64{100, 120, 90, 130}, []float64{0.2, -0.25, 0.444}, 1)
	if math.Abs(m.TotalReturn-0.3) > 1e-9 {
		t.Fatalf("unexpected total return %v", m.TotalReturn)
	}
	if math.Abs(m.MaxDrawdown-0.25) > 1e-9 {
		t.Fatalf("unexpected drawdown %v", m.MaxDrawdown)
	}
	if m.SharpeRatio == 0 {
		t.Fatalf("expected non-zero sharpe")
	}
	if got := calculateMetrics(nil, nil, 1); got != (Metrics{}) {
		t.Fatalf("empty input must give zero metrics")
	}
}

func TestEngineFillsActionTokenFromCandles(t *testing.T) {
	markets := testMarkets()
	markets[usdcToken] = exchange.Market{Token: usdcToken, Symbol: "USDC/USDT", PriceDecimals: 4, AmountDecimals: 2}
	src := fakeCandles{
		"SOL/USDT:USDT": {{Timestamp: start, Close: 90}},
		"USDC/USDT":     {{Timestamp: start, Close: 1}},
	}

	cond, err := condition.PriceBelow(solToken, 10000).Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	act, err := action.Buy(usdcToken, 1000).Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	s, err := strategy.New(cond, act, 0)
	if err != nil {
		t.Fatalf("strategy.New returned error: %v", err)
	}
	if got := s.Tokens(); len(got) != 2 || got[0] != solToken || got[1] != usdcToken {
		t.Fatalf("expected condition and action tokens, got %v", got)
	}

	run := func(snaps []Snapshot) (Result, *Engine) {
		t.Helper()
		engine, err := NewEngine(Config{InitialCash: 1000, Markets: markets}, NewSliceSnapshotProvider(snaps), strategy.NewVault(s), nil)
		if err != nil {
			t.Fatalf("NewEngine returned error: %v", err)
		}
		res, err := engine.Run(context.Background())
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		return res, engine
	}

	snaps, err := LoadStrategySnapshots(context.Background(), src, markets, s, "1h", 10)
	if err != nil {
		t.Fatalf("LoadStrategySnapshots returned error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Prices[usdcToken] != 10000 {
		t.Fatalf("expected action token price in snapshot, got %+v", snaps)
	}
	res, engine := run(snaps)
	if res.Executions != 1 || res.Trades != 1 || res.Rejected != 0 {
		t.Fatalf("unexpected counters %+v", res)
	}
	if got := engine.Simulator().Holding(usdcToken).String(); got != "10" {
		t.Fatalf("expected 10 USDC held, got %s", got)
	}
	if got := engine.Simulator().Cash().String(); got != "990" {
		t.Fatalf("expected cash 990, got %s", got)
	}

	condOnly, err := LoadCandleSnapshots(context.Background(), src, markets, s.Condition.Tokens(), "1h", 10)
	if err != nil {
		t.Fatalf("LoadCandleSnapshots returned error: %v", err)
	}
	if res, _ := run(condOnly); res.Executions != 0 || res.Rejected != 1 {
		t.Fatalf("buy without a price must be rejected, got %+v", res)
	}
}
