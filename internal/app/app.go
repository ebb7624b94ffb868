package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-engine/internal/action"
	"strategy-engine/internal/config"
	"strategy-engine/internal/dsl"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/execution"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/registry"
	"strategy-engine/internal/store"
	"strategy-engine/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

type components struct {
	registry *registry.Registry
	monitor  *monitor.Service
	orch     *orchestrator
}

func (a *App) build(ctx context.Context) (*components, error) {
	reg, err := registry.NewRegistry(ctx, a.store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化 vault 存储失败: %w", err)
	}
	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	markets, err := exchange.NewMarkets(a.cfg.Markets)
	if err != nil {
		return nil, err
	}
	quotes, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败: %w", err)
	}
	feed := exchange.NewPriceFeed(quotes, markets, a.cfg.Scheduler.Concurrency, a.logger)

	eff, err := a.newEffector(markets)
	if err != nil {
		return nil, err
	}

	return &components{
		registry: reg,
		monitor:  monitorSvc,
		orch:     newOrchestrator(reg, feed, eff, monitorSvc, a.cfg.Scheduler.Concurrency, a.logger),
	}, nil
}

// RunOnce 初始化各组件并只执行一个调度周期，适合由外部定时任务驱动。
func (a *App) RunOnce(ctx context.Context) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	return c.orch.Tick(ctx)
}

// Run 初始化各组件后按 scheduler.loop_interval 周期调度全部 vault，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("策略引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("mode", string(a.cfg.Execution.Mode)),
		zap.Int("markets", len(a.cfg.Markets)),
	)

	c, err := a.build(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Port > 0 {
		if err := startMonitorServer(ctx, c.monitor, c.registry, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = time.Minute
	}

	if err = c.orch.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = c.orch.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}

func (a *App) newEffector(markets exchange.Markets) (action.Effector, error) {
	if a.cfg.Execution.Mode != config.ModeLive {
		a.logger.Info("执行器处于模拟模式")
		return execution.NewEffector(a.cfg.Execution, nil, markets, a.logger)
	}
	tradeClient, err := exchange.NewTradeClient(a.cfg.Trade)
	if err != nil {
		return nil, fmt.Errorf("初始化交易客户端失败: %w", err)
	}
	return execution.NewEffector(a.cfg.Execution, tradeClient, markets, a.logger)
}

// Registration 描述一个待注册的 vault。
type Registration struct {
	Name         string
	Condition    string
	Actions      string
	EverySeconds uint64
	Deposit      uint64
}

// Register 编译 DSL 文本、存入初始余额并写入 registry，同时记录注册事件。
// mon 可以为 nil。
func Register(ctx context.Context, reg *registry.Registry, mon *monitor.Service, r Registration) (registry.Record, error) {
	cond, err := dsl.CompileCondition(r.Condition)
	if err != nil {
		return registry.Record{}, err
	}
	act, err := dsl.CompileActions(r.Actions)
	if err != nil {
		return registry.Record{}, err
	}
	s, err := strategy.New(cond, act, r.EverySeconds)
	if err != nil {
		return registry.Record{}, err
	}
	v := strategy.NewVault(s)
	if err := v.Deposit(r.Deposit); err != nil {
		return registry.Record{}, err
	}

	rec, err := reg.Create(ctx, r.Name, v)
	if err != nil {
		return registry.Record{}, err
	}
	if mon != nil {
		mon.RecordRegistered(ctx, rec.ID.String(), monitor.RegisteredPayload{
			Name:        rec.Name,
			Fingerprint: rec.Fingerprint,
			Condition:   rec.Condition,
			Actions:     rec.Actions,
		})
	}
	return rec, nil
}
