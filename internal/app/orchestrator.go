package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-engine/internal/action"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/metrics"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/registry"
	"strategy-engine/internal/strategy"
	"strategy-engine/internal/token"
)

type priceSource interface {
	Prices(ctx context.Context, tokens []token.Token) (condition.Prices, error)
}

type vaultStore interface {
	List(ctx context.Context) ([]registry.Record, error)
	Save(ctx context.Context, id uuid.UUID, v *strategy.Vault) error
}

// orchestrator 每个周期加载全部 vault，对到期者统一取价后并发执行。
// 同一周期内每个 vault 只由一个 goroutine 处理。
type orchestrator struct {
	vaults      vaultStore
	feed        priceSource
	effector    action.Effector
	monitor     *monitor.Service
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

func newOrchestrator(vaults vaultStore, feed priceSource, eff action.Effector, mon *monitor.Service, concurrency int, logger *zap.Logger) *orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &orchestrator{
		vaults:      vaults,
		feed:        feed,
		effector:    eff,
		monitor:     mon,
		logger:      logger,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (o *orchestrator) Tick(ctx context.Context) error {
	started := o.now()
	now := started.Unix()

	records, err := o.vaults.List(ctx)
	if err != nil {
		o.recordError(ctx, "", "加载 vault 失败", err, nil)
		return err
	}

	due := make([]registry.Record, 0, len(records))
	for _, rec := range records {
		if !rec.Vault.Strategy.Due(now) {
			metrics.ObserveSkip()
			continue
		}
		due = append(due, rec)
	}
	if len(due) == 0 {
		metrics.ObserveTick(o.now().Sub(started), 0)
		return nil
	}

	prices, err := o.feed.Prices(ctx, collectTokens(due))
	if err != nil {
		metrics.ObservePriceError()
		o.recordError(ctx, "", "拉取价格失败", err, map[string]interface{}{"vaults": len(due)})
		return fmt.Errorf("app: 拉取价格失败: %w", err)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, rec := range due {
		g.Go(func() error {
			if runErr := o.runVault(ctx, rec, prices, now); runErr != nil {
				mu.Lock()
				errs = multierr.Append(errs, runErr)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveTick(o.now().Sub(started), len(due))
	o.logger.Debug("调度周期完成",
		zap.Int("vaults", len(records)),
		zap.Int("due", len(due)),
		zap.Duration("elapsed", o.now().Sub(started)),
	)
	return errs
}

func (o *orchestrator) runVault(ctx context.Context, rec registry.Record, prices condition.Prices, now int64) error {
	vaultID := rec.ID.String()
	v := rec.Vault
	before := v.Strategy.LastExecutedAt

	out, err := v.Execute(ctx, prices, o.effector, now)
	if err == nil || out.Triggered {
		metrics.ObserveEvaluation(out.Triggered)
		if o.monitor != nil {
			o.monitor.RecordEvaluation(ctx, vaultID, monitor.EvaluationPayload{
				Name:      rec.Name,
				Condition: rec.Condition,
				Prices:    quotedPrices(v.Strategy.Condition, prices),
				Triggered: out.Triggered,
			})
		}
	}
	if err != nil {
		metrics.ObserveExecution(metrics.ResultError)
		o.recordError(ctx, vaultID, "执行 vault 失败", err, map[string]interface{}{"name": rec.Name})
		return fmt.Errorf("app: vault %s 执行失败: %w", rec.Name, err)
	}
	if !out.Triggered {
		return nil
	}

	result := metrics.ResultRejected
	if out.Executed {
		result = metrics.ResultSuccess
	}
	metrics.ObserveExecution(result)
	if o.monitor != nil {
		o.monitor.RecordExecution(ctx, vaultID, monitor.ExecutionPayload{
			Name:     rec.Name,
			Actions:  rec.Actions,
			Executed: out.Executed,
			Balance:  v.Balance,
			At:       now,
		})
	}
	o.logger.Info("vault 条件成立",
		zap.String("vault", vaultID),
		zap.String("name", rec.Name),
		zap.Bool("executed", out.Executed),
	)

	if v.Strategy.LastExecutedAt == before {
		return nil
	}
	if err := o.vaults.Save(ctx, rec.ID, v); err != nil {
		o.recordError(ctx, vaultID, "保存 vault 失败", err, nil)
		return err
	}
	return nil
}

func (o *orchestrator) recordError(ctx context.Context, vaultID, msg string, err error, fields map[string]interface{}) {
	o.logger.Error(msg, zap.String("vault", vaultID), zap.Error(err))
	if o.monitor != nil {
		o.monitor.RecordError(ctx, vaultID, msg, err, fields)
	}
}

// collectTokens 汇总到期 vault 条件中引用的 token。
func collectTokens(records []registry.Record) []token.Token {
	seen := make(map[token.Token]struct{})
	out := make([]token.Token, 0, len(records))
	for _, rec := range records {
		for _, tok := range rec.Vault.Strategy.Condition.Tokens() {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func quotedPrices(cond *condition.Tree, prices condition.Prices) map[string]uint64 {
	tokens := cond.Tokens()
	out := make(map[string]uint64, len(tokens))
	for _, tok := range tokens {
		if p, ok := prices[tok]; ok {
			out[tok.String()] = p
		}
	}
	return out
}
