package execution

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-engine/internal/action"
	"strategy-engine/internal/metrics"
)

const (
	modePaper = "paper"
	// maxPaperFills 为保留的最近动作条数，常驻进程中更早的记录被丢弃。
	maxPaperFills = 1024
)

// Paper 只记录动作，总是返回成功。
type Paper struct {
	logger *zap.Logger

	mu    sync.Mutex
	fills []Fill
	limit int
}

// NewPaper 创建模拟执行器。
func NewPaper(logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{logger: logger, limit: maxPaperFills}
}

// Apply 实现 action.Effector。
func (p *Paper) Apply(ctx context.Context, a action.Action) (bool, error) {
	p.logger.Info("模拟执行动作",
		zap.String("kind", a.Kind.String()),
		zap.Stringer("token", a.Token),
		zap.Uint64("amount", a.Amount),
	)
	metrics.ObserveAction(a.Kind.String(), modePaper)

	p.mu.Lock()
	if len(p.fills) >= p.limit {
		n := copy(p.fills, p.fills[len(p.fills)-p.limit+1:])
		p.fills = p.fills[:n]
	}
	p.fills = append(p.fills, Fill{Action: a, Mode: modePaper, At: time.Now().UTC()})
	p.mu.Unlock()
	return true, nil
}

// Fills 返回最近记录动作的副本，按执行顺序排列。
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}
