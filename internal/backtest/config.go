package backtest

import (
	"time"

	"strategy-engine/internal/exchange"
)

// Config 定义回测参数。
type Config struct {
	InitialCash  float64          // 初始现金（计价货币）
	Markets      exchange.Markets // 提供价格与数量的定点精度，缺失时按 0 位小数处理
	StepsPerYear float64          // 年化 Sharpe 使用的每年步数
	StartTime    time.Time        // 开始时间，零值表示不限制
	EndTime      time.Time        // 结束时间，零值表示不限制
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 10000
	}
	if cfg.StepsPerYear <= 0 {
		// 默认按小时K线
		cfg.StepsPerYear = 24 * 365
	}
	return cfg
}

func (c Config) inRange(ts time.Time) bool {
	if !c.StartTime.IsZero() && ts.Before(c.StartTime) {
		return false
	}
	if !c.EndTime.IsZero() && ts.After(c.EndTime) {
		return false
	}
	return true
}
