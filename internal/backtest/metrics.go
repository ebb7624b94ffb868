package backtest

import "math"

// Metrics 记录回测绩效指标，收益率均为比例而非百分数。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	Volatility  float64 // 年化波动率
	SharpeRatio float64 // 无风险利率取 0
}

func calculateMetrics(equity []float64, returns []float64, stepsPerYear float64) Metrics {
	if len(equity) == 0 {
		return Metrics{}
	}

	var m Metrics
	if first := equity[0]; first > 0 {
		m.TotalReturn = equity[len(equity)-1]/first - 1
	}
	m.MaxDrawdown = maxDrawdown(equity)

	mean, std := meanStd(returns)
	annual := math.Sqrt(stepsPerYear)
	m.Volatility = std * annual
	if std > 0 {
		m.SharpeRatio = mean / std * annual
	}
	return m
}

// maxDrawdown 返回权益曲线相对历史高点的最大回撤比例。
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		peak = math.Max(peak, v)
		if peak <= 0 {
			continue
		}
		worst = math.Max(worst, (peak-v)/peak)
	}
	return worst
}

// meanStd 返回样本均值与样本标准差。
func meanStd(xs []float64) (float64, float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	if n < 2 {
		return mean, 0
	}

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / (n - 1))
}
