package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"strategy-engine/internal/config"
	"strategy-engine/internal/token"
)

const (
	sol  = "So11111111111111111111111111111111111111112"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  []string
}

func (f *fakeQuotes) LastPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err := f.errs[symbol]; err != nil {
		return 0, err
	}
	return f.prices[symbol], nil
}

func testMarkets(t *testing.T) Markets {
	t.Helper()
	markets, err := NewMarkets([]config.MarketConfig{
		{Token: sol, Symbol: "SOL/USDT:USDT", PriceDecimals: 2, AmountDecimals: 3},
		{Token: usdc, Symbol: "USDC/USDT", PriceDecimals: 4},
	})
	if err != nil {
		t.Fatalf("NewMarkets returned error: %v", err)
	}
	return markets
}

func TestToFixed(t *testing.T) {
	tests := []struct {
		in       float64
		decimals int32
		want     uint64
	}{
		{150.237, 2, 15023},
		{0.99995, 4, 9999},
		{300, 0, 300},
		{0, 6, 0},
	}
	for _, tt := range tests {
		got, err := ToFixed(tt.in, tt.decimals)
		if err != nil {
			t.Fatalf("ToFixed(%v,%d) returned error: %v", tt.in, tt.decimals, err)
		}
		if got != tt.want {
			t.Errorf("ToFixed(%v,%d) = %d, want %d", tt.in, tt.decimals, got, tt.want)
		}
	}

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1), 1e30} {
		if _, err := ToFixed(bad, 2); !errors.Is(err, ErrPriceRange) {
			t.Errorf("ToFixed(%v): expected ErrPriceRange, got %v", bad, err)
		}
	}

	if got := FromFixed(15023, 2).String(); got != "150.23" {
		t.Errorf("FromFixed = %s", got)
	}
	if got := FromFixed(math.MaxUint64, 0).String(); got != "18446744073709551615" {
		t.Errorf("FromFixed(max) = %s", got)
	}
}

func TestPriceFeed(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]float64{
		"SOL/USDT:USDT": 150.5,
		"USDC/USDT":     1.0001,
	}}
	feed := NewPriceFeed(quotes, testMarkets(t), 2, nil)

	unknown := token.Token{1}
	prices, err := feed.Prices(context.Background(), []token.Token{token.MustParse(sol), token.MustParse(usdc), unknown})
	if err != nil {
		t.Fatalf("Prices returned error: %v", err)
	}
	if prices[token.MustParse(sol)] != 15050 || prices[token.MustParse(usdc)] != 10001 {
		t.Fatalf("unexpected prices %v", prices)
	}
	if _, ok := prices[unknown]; ok {
		t.Fatalf("unmapped token must be absent")
	}
	if len(quotes.calls) != 2 {
		t.Fatalf("expected 2 quote calls, got %d", len(quotes.calls))
	}

	if m, ok := feed.Market(token.MustParse(sol)); !ok || m.TradeSymbol != "SOL/USDT:USDT" || m.AmountDecimals != 3 {
		t.Fatalf("unexpected market %+v", m)
	}
}

func TestPriceFeedPropagatesErrors(t *testing.T) {
	boom := errors.New("timeout")
	quotes := &fakeQuotes{
		prices: map[string]float64{"SOL/USDT:USDT": 150},
		errs:   map[string]error{"USDC/USDT": boom},
	}
	feed := NewPriceFeed(quotes, testMarkets(t), 0, nil)
	if _, err := feed.Prices(context.Background(), []token.Token{token.MustParse(sol), token.MustParse(usdc)}); !errors.Is(err, boom) {
		t.Fatalf("expected quote error, got %v", err)
	}
}

func TestNewMarketsRejectsBadToken(t *testing.T) {
	if _, err := NewMarkets([]config.MarketConfig{{Token: "nope", Symbol: "X/Y"}}); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	netErr := &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}
	if _, retry := classifyError(netErr); !retry {
		t.Errorf("network errors must be retried")
	}
	if !IsRetryable(netErr) {
		t.Errorf("IsRetryable(network) = false")
	}

	maint := &ccxt.Error{Type: ccxt.OnMaintenanceErrType}
	if err, retry := classifyError(maint); retry || !errors.Is(err, ErrMaintenance) {
		t.Errorf("maintenance must map to ErrMaintenance without retry, got %v %v", err, retry)
	}

	if _, retry := classifyError(context.Canceled); retry {
		t.Errorf("cancellation must not be retried")
	}
	if _, retry := classifyError(errors.New("bad symbol")); retry {
		t.Errorf("plain errors must not be retried")
	}
}
