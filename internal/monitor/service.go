package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"strategy-engine/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := st.Migrate(context.Background(), "monitor",
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			vault_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_vault ON monitor_events(vault_id);`,
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := sonnet.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_id, event_type, vault_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.VaultID, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordEvaluation 记录条件求值。
func (s *Service) RecordEvaluation(ctx context.Context, vaultID string, payload EvaluationPayload) {
	if err := s.Record(ctx, Event{
		Type:    EventEvaluation,
		VaultID: vaultID,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("记录求值事件失败", zap.Error(err))
	}
}

// RecordExecution 记录动作执行。
func (s *Service) RecordExecution(ctx context.Context, vaultID string, payload ExecutionPayload) {
	if err := s.Record(ctx, Event{
		Type:    EventExecution,
		VaultID: vaultID,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordRegistered 记录 vault 注册。
func (s *Service) RecordRegistered(ctx context.Context, vaultID string, payload RegisteredPayload) {
	if err := s.Record(ctx, Event{
		Type:    EventRegistered,
		VaultID: vaultID,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("记录注册事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, vaultID string, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		VaultID: vaultID,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// Filter 限定 ListEvents 的检索范围，零值表示不过滤。
type Filter struct {
	Type    EventType
	VaultID string
	Limit   int
}

// ListEvents 按条件检索最近事件，payload 解码为通用 map。
func (s *Service) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_id, event_type, vault_id, payload, created_at FROM monitor_events WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if filter.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.VaultID != "" {
		query += ` AND vault_id = ?`
		args = append(args, filter.VaultID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			id      string
			typ     string
			vaultID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&id, &typ, &vaultID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		var decoded map[string]interface{}
		if err := sonnet.Unmarshal([]byte(payload), &decoded); err != nil {
			s.logger.Warn("事件 payload 无法解析", zap.String("event_id", id), zap.Error(err))
		}

		events = append(events, Event{
			ID:        id,
			Type:      EventType(typ),
			VaultID:   vaultID,
			Timestamp: ts,
			Payload:   decoded,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
