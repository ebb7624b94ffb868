package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
app:
  environment: test
markets:
  - token: So11111111111111111111111111111111111111112
    symbol: SOL/USDT:USDT
    price_decimals: 6
    amount_decimals: 3
  - token: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
    symbol: USDC/USDT
    trade_symbol: USDC/USDT:USDT
    price_decimals: 8
database:
  in_memory: true
scheduler:
  loop_interval: 30s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("unexpected environment %q", cfg.App.Environment)
	}
	if cfg.Execution.Mode != ModePaper || cfg.Execution.MaxRetry != 3 {
		t.Errorf("unexpected execution defaults %+v", cfg.Execution)
	}
	if cfg.Scheduler.LoopInterval != 30*time.Second || cfg.Scheduler.Concurrency != 4 {
		t.Errorf("unexpected scheduler %+v", cfg.Scheduler)
	}
	if cfg.Exchange.Retry.MinDelay != 500*time.Millisecond {
		t.Errorf("unexpected retry min delay %s", cfg.Exchange.Retry.MinDelay)
	}
	if len(cfg.Markets) != 2 {
		t.Fatalf("unexpected markets %+v", cfg.Markets)
	}
	if cfg.Markets[0].PriceDecimals != 6 || cfg.Markets[0].AmountDecimals != 3 {
		t.Errorf("unexpected market decimals %+v", cfg.Markets[0])
	}
	if got := cfg.Markets[0].TradeSymbolOrDefault(); got != "SOL/USDT:USDT" {
		t.Errorf("unexpected trade symbol %q", got)
	}
	if got := cfg.Markets[1].TradeSymbolOrDefault(); got != "USDC/USDT:USDT" {
		t.Errorf("unexpected trade symbol %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	content := sampleConfig + `
execution:
  mode: dry
  max_retry: 0
`
	content = strings.Replace(content, "So11111111111111111111111111111111111111112", "not-a-token", 1)

	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"markets[0].token", "execution.mode", "execution.max_retry"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	content := sampleConfig + `
execution:
  mode: live
`
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected credential error, got %v", err)
	}
}
