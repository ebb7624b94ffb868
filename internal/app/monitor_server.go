package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"strategy-engine/internal/monitor"
	"strategy-engine/internal/registry"
)

// vaultView 为 /vaults 接口的输出。
type vaultView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Fingerprint    string `json:"fingerprint"`
	Condition      string `json:"condition"`
	Actions        string `json:"actions"`
	Balance        uint64 `json:"balance"`
	EverySeconds   uint64 `json:"execute_every_seconds"`
	LastExecutedAt int64  `json:"last_executed_at"`
	UpdatedAt      string `json:"updated_at"`
}

func newMonitorMux(svc *monitor.Service, reg *registry.Registry, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		filter := monitor.Filter{
			VaultID: strings.TrimSpace(q.Get("vault")),
			Limit:   limit,
		}
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			filter.Type = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/vaults", func(w http.ResponseWriter, r *http.Request) {
		records, err := reg.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]vaultView, 0, len(records))
		for _, rec := range records {
			views = append(views, vaultView{
				ID:             rec.ID.String(),
				Name:           rec.Name,
				Fingerprint:    rec.Fingerprint,
				Condition:      rec.Condition,
				Actions:        rec.Actions,
				Balance:        rec.Vault.Balance,
				EverySeconds:   rec.Vault.Strategy.ExecuteEverySeconds,
				LastExecutedAt: rec.Vault.Strategy.LastExecutedAt,
				UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, views, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *zap.Logger) {
	body, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func startMonitorServer(ctx context.Context, svc *monitor.Service, reg *registry.Registry, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitorMux(svc, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
