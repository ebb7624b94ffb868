package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"strategy-engine/internal/strategy"
)

// Result 汇总回测结果。
type Result struct {
	Metrics      Metrics
	EquityCurve  []float64
	ReturnSeries []float64
	Steps        int // 参与回测的快照数
	Skipped      int // 未到执行间隔的快照数
	Triggers     int // 条件成立次数
	Executions   int // 动作序列整体成功次数
	Trades       int // 被接受的单个动作数
	Rejected     int // 被拒绝的单个动作数
	FinalEquity  float64
}

// Engine 将历史价格快照逐一送入 vault 的门控执行流程。
type Engine struct {
	cfg       Config
	provider  SnapshotProvider
	vault     *strategy.Vault
	simulator *Simulator
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。vault 会被复制，回测不会修改调用方持有的实例。
func NewEngine(cfg Config, provider SnapshotProvider, vault *strategy.Vault, logger *zap.Logger) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("backtest: provider 不能为空")
	}
	if vault == nil {
		return nil, fmt.Errorf("backtest: vault 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := vault.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("backtest: 复制 vault 失败: %w", err)
	}
	clone := new(strategy.Vault)
	if err := clone.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("backtest: 复制 vault 失败: %w", err)
	}

	cfg = cfg.normalize()
	return &Engine{
		cfg:       cfg,
		provider:  provider,
		vault:     clone,
		simulator: NewSimulator(cfg.InitialCash, cfg.Markets),
		logger:    logger,
	}, nil
}

// Run 执行完整回测流程。effector 返回的错误会中止回测。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result
	for {
		snap, ok, err := e.provider.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		if !e.cfg.inRange(snap.Time) {
			continue
		}
		res.Steps++

		e.simulator.Advance(snap.Prices)
		out, err := e.vault.Execute(ctx, snap.Prices, e.simulator, snap.Time.Unix())
		if err != nil {
			return Result{}, fmt.Errorf("backtest: %s 执行失败: %w", snap.Time.Format("2006-01-02 15:04"), err)
		}
		switch {
		case !out.Due:
			res.Skipped++
		case out.Executed:
			res.Triggers++
			res.Executions++
		case out.Triggered:
			res.Triggers++
		}
		e.simulator.Mark()
	}

	res.EquityCurve = e.simulator.EquityHistory()
	res.ReturnSeries = e.simulator.ReturnHistory()
	res.Metrics = calculateMetrics(res.EquityCurve, res.ReturnSeries, e.cfg.StepsPerYear)
	res.Trades = e.simulator.TradeCount()
	res.Rejected = e.simulator.Rejected()
	res.FinalEquity = e.simulator.Equity()

	e.logger.Info("回测完成",
		zap.Int("steps", res.Steps),
		zap.Int("executions", res.Executions),
		zap.Float64("final_equity", res.FinalEquity),
		zap.Float64("max_drawdown", res.Metrics.MaxDrawdown),
	)
	return res, nil
}

// Vault 返回回测结束后的 vault 副本状态。
func (e *Engine) Vault() *strategy.Vault {
	return e.vault
}

// Simulator 返回回测使用的模拟账户。
func (e *Engine) Simulator() *Simulator {
	return e.simulator
}
