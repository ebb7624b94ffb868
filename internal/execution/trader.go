package execution

import (
	"fmt"

	"go.uber.org/zap"

	"strategy-engine/internal/action"
	"strategy-engine/internal/config"
	"strategy-engine/internal/exchange"
)

var (
	_ action.Effector = (*Paper)(nil)
	_ action.Effector = (*Venue)(nil)
)

// NewEffector 按执行模式选择执行器，live 模式需要下单客户端。
func NewEffector(cfg config.ExecutionConfig, client orderClient, markets exchange.Markets, logger *zap.Logger) (action.Effector, error) {
	switch cfg.Mode {
	case config.ModePaper, "":
		return NewPaper(logger), nil
	case config.ModeLive:
		if client == nil {
			return nil, fmt.Errorf("execution: live 模式缺少下单客户端")
		}
		return NewVenue(client, markets, cfg.MaxRetry, logger), nil
	default:
		return nil, fmt.Errorf("execution: 未知执行模式 %q", cfg.Mode)
	}
}
