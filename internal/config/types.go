package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"strategy-engine/internal/token"
)

// ExecutionMode 选择动作执行器。
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig           `mapstructure:"app"`
	Exchange  ExchangeConfig      `mapstructure:"exchange"`
	Trade     TradeExchangeConfig `mapstructure:"trade_exchange"`
	Markets   []MarketConfig      `mapstructure:"markets"`
	Execution ExecutionConfig     `mapstructure:"execution"`
	Database  DatabaseConfig      `mapstructure:"database"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Scheduler SchedulerConfig     `mapstructure:"scheduler"`
	Monitor   MonitorConfig       `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述行情交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// TradeExchangeConfig 描述执行端交易所配置。
type TradeExchangeConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MarketConfig 将 token 映射到交易所交易对。
// PriceDecimals 为价格定点数的小数位数，AmountDecimals 为动作数量的小数位数。
type MarketConfig struct {
	Token          string `mapstructure:"token"`
	Symbol         string `mapstructure:"symbol"`
	TradeSymbol    string `mapstructure:"trade_symbol"`
	PriceDecimals  int32  `mapstructure:"price_decimals"`
	AmountDecimals int32  `mapstructure:"amount_decimals"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Mode     ExecutionMode `mapstructure:"mode"`
	MaxRetry int           `mapstructure:"max_retry"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// MonitorConfig 控制监控接口，端口为 0 时不启动。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	err = multierr.Append(err, c.validateMarkets())
	switch c.Execution.Mode {
	case ModePaper:
	case ModeLive:
		if c.Trade.Name == "" {
			err = multierr.Append(err, errors.New("live 模式需要配置 trade_exchange.name"))
		}
		if c.Trade.APIKey == "" || c.Trade.APISecret == "" {
			err = multierr.Append(err, errors.New("live 模式需要配置 trade_exchange.api_key 与 api_secret"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("execution.mode 只能为 paper 或 live，实际为 %q", c.Execution.Mode))
	}
	if c.Execution.MaxRetry <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retry 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("scheduler.concurrency 必须大于0"))
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (c *Config) validateMarkets() error {
	var err error
	seen := make(map[token.Token]struct{}, len(c.Markets))
	for i, m := range c.Markets {
		tok, parseErr := token.Parse(m.Token)
		if parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("markets[%d].token 无效: %w", i, parseErr))
			continue
		}
		if _, dup := seen[tok]; dup {
			err = multierr.Append(err, fmt.Errorf("markets[%d].token %s 重复", i, m.Token))
		}
		seen[tok] = struct{}{}
		if strings.TrimSpace(m.Symbol) == "" {
			err = multierr.Append(err, fmt.Errorf("markets[%d].symbol 不能为空", i))
		}
		if m.PriceDecimals < 0 || m.PriceDecimals > 18 {
			err = multierr.Append(err, fmt.Errorf("markets[%d].price_decimals 必须位于[0,18]", i))
		}
		if m.AmountDecimals < 0 || m.AmountDecimals > 18 {
			err = multierr.Append(err, fmt.Errorf("markets[%d].amount_decimals 必须位于[0,18]", i))
		}
	}
	return err
}

// TradeSymbolOrDefault 返回下单使用的交易对，未单独配置时沿用行情交易对。
func (m MarketConfig) TradeSymbolOrDefault() string {
	if m.TradeSymbol != "" {
		return m.TradeSymbol
	}
	return m.Symbol
}
