package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"strategy-engine/internal/action"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/config"
	"strategy-engine/internal/execution"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/registry"
	"strategy-engine/internal/store"
	"strategy-engine/internal/token"
)

const (
	solSrc  = "So11111111111111111111111111111111111111112"
	usdcSrc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var (
	solToken  = token.MustParse(solSrc)
	usdcToken = token.MustParse(usdcSrc)
)

type fakeFeed struct {
	mu     sync.Mutex
	prices condition.Prices
	err    error
	calls  [][]token.Token
}

func (f *fakeFeed) Prices(ctx context.Context, tokens []token.Token) (condition.Prices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]token.Token(nil), tokens...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(condition.Prices, len(tokens))
	for _, tok := range tokens {
		if p, ok := f.prices[tok]; ok {
			out[tok] = p
		}
	}
	return out, nil
}

type fixture struct {
	st      *store.Store
	reg     *registry.Registry
	monitor *monitor.Service
	feed    *fakeFeed
	paper   *execution.Paper
	orch    *orchestrator
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	reg, err := registry.NewRegistry(ctx, st, nil)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	mon, err := monitor.NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	f := &fixture{
		st:      st,
		reg:     reg,
		monitor: mon,
		feed:    &fakeFeed{prices: condition.Prices{solToken: 350, usdcToken: 20}},
		paper:   execution.NewPaper(nil),
		now:     time.Unix(1_700_000_000, 0).UTC(),
	}
	f.orch = newOrchestrator(reg, f.feed, f.paper, mon, 2, nil)
	f.orch.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, r Registration) registry.Record {
	t.Helper()
	rec, err := Register(context.Background(), f.reg, f.monitor, r)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return rec
}

func (f *fixture) events(t *testing.T, typ monitor.EventType) []monitor.Event {
	t.Helper()
	events, err := f.monitor.ListEvents(context.Background(), monitor.Filter{Type: typ})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	return events
}

func TestTickGatesAndPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	hourly := f.register(t, Registration{
		Name:         "sol-breakout",
		Condition:    "PRICE_ABOVE(" + solSrc + ",300)",
		Actions:      "BUY(" + solSrc + ",5)",
		EverySeconds: 60,
		Deposit:      1000,
	})
	always := f.register(t, Registration{
		Name:      "usdc-depeg",
		Condition: "PRICE_BELOW(" + usdcSrc + ",10)",
		Actions:   "SELL(" + usdcSrc + ",1)",
	})

	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	got, err := f.reg.Get(ctx, hourly.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Vault.Strategy.LastExecutedAt != f.now.Unix() {
		t.Fatalf("expected last executed %d, got %d", f.now.Unix(), got.Vault.Strategy.LastExecutedAt)
	}
	if got.Vault.Balance != 1000 {
		t.Fatalf("balance must be preserved, got %d", got.Vault.Balance)
	}
	other, err := f.reg.Get(ctx, always.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if other.Vault.Strategy.LastExecutedAt != 0 {
		t.Fatalf("untriggered vault must not be stamped")
	}
	if fills := f.paper.Fills(); len(fills) != 1 || fills[0].Action.Kind != action.KindBuy {
		t.Fatalf("unexpected fills %+v", fills)
	}
	if n := len(f.events(t, monitor.EventEvaluation)); n != 2 {
		t.Fatalf("expected 2 evaluation events, got %d", n)
	}
	if n := len(f.events(t, monitor.EventExecution)); n != 1 {
		t.Fatalf("expected 1 execution event, got %d", n)
	}

	// 30 秒后只有 every=0 的 vault 到期，只拉取它引用的 token
	f.now = f.now.Add(30 * time.Second)
	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	last := f.feed.calls[len(f.feed.calls)-1]
	if len(last) != 1 || last[0] != usdcToken {
		t.Fatalf("expected only usdc to be quoted, got %v", last)
	}
	if n := len(f.paper.Fills()); n != 1 {
		t.Fatalf("gated vault must not run, fills=%d", n)
	}

	f.now = f.now.Add(30 * time.Second)
	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if n := len(f.paper.Fills()); n != 2 {
		t.Fatalf("vault must run again once the interval elapsed, fills=%d", n)
	}
	got, err = f.reg.Get(ctx, hourly.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Vault.Strategy.LastExecutedAt != f.now.Unix() {
		t.Fatalf("expected last executed %d, got %d", f.now.Unix(), got.Vault.Strategy.LastExecutedAt)
	}
}

func TestTickMissingPriceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.prices = condition.Prices{}

	f.register(t, Registration{
		Name:      "no-quote",
		Condition: "NOT PRICE_ABOVE(" + solSrc + ",1)",
		Actions:   "BUY(" + solSrc + ",1)",
	})

	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	// 缺失价格使原子谓词为假，NOT 之后成立
	if n := len(f.paper.Fills()); n != 1 {
		t.Fatalf("expected NOT over a missing price to trigger, fills=%d", n)
	}
}

func TestTickPriceFeedFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.err = errors.New("exchange down")

	f.register(t, Registration{
		Name:      "sol",
		Condition: "PRICE_ABOVE(" + solSrc + ",1)",
		Actions:   "BUY(" + solSrc + ",1)",
	})

	err := f.orch.Tick(ctx)
	if err == nil || !strings.Contains(err.Error(), "exchange down") {
		t.Fatalf("expected feed error, got %v", err)
	}
	if n := len(f.events(t, monitor.EventError)); n != 1 {
		t.Fatalf("expected 1 error event, got %d", n)
	}
	if n := len(f.paper.Fills()); n != 0 {
		t.Fatalf("no action may run without prices, fills=%d", n)
	}
}

func TestTickRejectedAndFailingEffectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec := f.register(t, Registration{
		Name:      "sol",
		Condition: "PRICE_ABOVE(" + solSrc + ",1)",
		Actions:   "BUY(" + solSrc + ",1) AND SELL(" + solSrc + ",1)",
	})

	f.orch.effector = action.EffectorFunc(func(ctx context.Context, a action.Action) (bool, error) {
		return a.Kind == action.KindBuy, nil
	})
	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	got, err := f.reg.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Vault.Strategy.LastExecutedAt != 0 {
		t.Fatalf("rejected sequence must not stamp the vault")
	}
	execs := f.events(t, monitor.EventExecution)
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution event, got %d", len(execs))
	}
	payload, ok := execs[0].Payload.(map[string]interface{})
	if !ok || payload["executed"] != false {
		t.Fatalf("unexpected execution payload %#v", execs[0].Payload)
	}

	boom := errors.New("venue offline")
	f.orch.effector = action.EffectorFunc(func(ctx context.Context, a action.Action) (bool, error) {
		return false, boom
	})
	err = f.orch.Tick(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected effector error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sol") {
		t.Fatalf("error should name the vault: %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Registration{
		{Name: "bad-cond", Condition: "PRICE_ABOVE(", Actions: "BUY(" + solSrc + ",1)"},
		{Name: "bad-act", Condition: "PRICE_ABOVE(" + solSrc + ",1)", Actions: "HODL(" + solSrc + ",1)"},
	}
	for _, tc := range cases {
		if _, err := Register(ctx, f.reg, nil, tc); err == nil {
			t.Errorf("%s: expected error", tc.Name)
		}
	}
	records, err := f.reg.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("nothing should be stored, got %d", len(records))
	}
}

func TestTickSkipsCorruptVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	broken := f.register(t, Registration{
		Name:      "broken",
		Condition: "PRICE_ABOVE(" + solSrc + ",300)",
		Actions:   "BUY(" + solSrc + ",5)",
	})
	f.register(t, Registration{
		Name:      "healthy",
		Condition: "PRICE_ABOVE(" + solSrc + ",300)",
		Actions:   "SELL(" + solSrc + ",5)",
	})
	if _, err := f.st.DB().ExecContext(ctx, `UPDATE vaults SET data = ? WHERE id = ?`, []byte{0xff}, broken.ID.String()); err != nil {
		t.Fatalf("corrupting row failed: %v", err)
	}

	if err := f.orch.Tick(ctx); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	fills := f.paper.Fills()
	if len(fills) != 1 || fills[0].Action.Kind != action.KindSell {
		t.Fatalf("expected only the healthy vault to run, got %+v", fills)
	}
}
