// Package metrics 暴露引擎运行指标：
//
//	strategy_evaluations_total{result}  条件求值次数 (triggered|idle)
//	strategy_executions_total{result}   动作序列执行次数 (success|rejected|error)
//	strategy_skipped_total              未到执行间隔而跳过的次数
//	strategy_actions_total{kind,mode}   提交给执行器的单个动作
//	strategy_price_errors_total         价格拉取失败次数
//	strategy_tick_seconds               单次调度耗时
//	strategy_vaults                     最近一次调度处理的 vault 数
//
// 指标在 init() 中注册到默认 registry，由 /metrics 暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_evaluations_total",
			Help: "Condition evaluations by result",
		},
		[]string{"result"},
	)

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_executions_total",
			Help: "Action sequence runs by result",
		},
		[]string{"result"},
	)

	skipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strategy_skipped_total",
			Help: "Vault runs skipped because the execution interval has not elapsed",
		},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_actions_total",
			Help: "Atomic actions applied by an effector",
		},
		[]string{"kind", "mode"},
	)

	priceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strategy_price_errors_total",
			Help: "Failed price fetches",
		},
	)

	tickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strategy_tick_seconds",
			Help:    "Duration of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	vaults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strategy_vaults",
			Help: "Vaults processed by the latest tick",
		},
	)
)

func init() {
	prometheus.MustRegister(evaluations, executions, skipped)
	prometheus.MustRegister(actions, priceErrors)
	prometheus.MustRegister(tickSeconds, vaults)
}

// 执行结果标签。
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

func ObserveEvaluation(triggered bool) {
	if triggered {
		evaluations.WithLabelValues("triggered").Inc()
		return
	}
	evaluations.WithLabelValues("idle").Inc()
}

func ObserveExecution(result string) {
	executions.WithLabelValues(result).Inc()
}

func ObserveSkip() {
	skipped.Inc()
}

func ObserveAction(kind, mode string) {
	actions.WithLabelValues(kind, mode).Inc()
}

func ObservePriceError() {
	priceErrors.Inc()
}

// ObserveTick 记录单次调度耗时与处理的 vault 数。
func ObserveTick(d time.Duration, processed int) {
	tickSeconds.Observe(d.Seconds())
	vaults.Set(float64(processed))
}
