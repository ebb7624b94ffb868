package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-engine/internal/dsl"
	"strategy-engine/internal/store"
	"strategy-engine/internal/strategy"
)

// ErrNotFound 表示 vault 不存在。
var ErrNotFound = errors.New("registry: vault not found")

// ErrCorrupt 表示单条记录的内容无法解析。
var ErrCorrupt = errors.New("registry: corrupt record")

// Record 为一条持久化的 vault 及其元数据。
type Record struct {
	ID          uuid.UUID
	Name        string
	Fingerprint string
	// Condition 与 Actions 为规范化后的 DSL 文本，仅用于展示。
	Condition string
	Actions   string
	Vault     *strategy.Vault
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry 以 SQLite 保存 vault 的二进制形式。
type Registry struct {
	store  *store.Store
	logger *zap.Logger
}

// NewRegistry 初始化 registry 并创建所需表结构。
func NewRegistry(ctx context.Context, st *store.Store, logger *zap.Logger) (*Registry, error) {
	if st == nil {
		return nil, errors.New("registry: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := st.Migrate(ctx, "registry",
		`CREATE TABLE IF NOT EXISTS vaults (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			condition_src TEXT NOT NULL,
			action_src TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vaults_fingerprint ON vaults(fingerprint);`,
	)
	if err != nil {
		return nil, err
	}

	return &Registry{store: st, logger: logger}, nil
}

// Create 保存新的 vault 并返回分配的记录。
func (r *Registry) Create(ctx context.Context, name string, v *strategy.Vault) (Record, error) {
	data, err := v.MarshalBinary()
	if err != nil {
		return Record{}, fmt.Errorf("registry: 序列化 vault 失败: %w", err)
	}
	condSrc, err := dsl.CanonicalCondition(v.Strategy.Condition)
	if err != nil {
		return Record{}, fmt.Errorf("registry: 格式化条件失败: %w", err)
	}

	now := time.Now().UTC()
	rec := Record{
		ID:          uuid.New(),
		Name:        name,
		Fingerprint: v.Strategy.Fingerprint(),
		Condition:   condSrc,
		Actions:     dsl.FormatActions(v.Strategy.Action),
		Vault:       v,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO vaults (id, name, fingerprint, condition_src, action_src, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Name, rec.Fingerprint, rec.Condition, rec.Actions, data,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return Record{}, fmt.Errorf("registry: 写入 vault 失败: %w", err)
	}

	r.logger.Info("已注册 vault",
		zap.String("id", rec.ID.String()),
		zap.String("name", name),
		zap.String("fingerprint", rec.Fingerprint),
	)
	return rec, nil
}

// Save 覆盖已有 vault 的二进制形式，用于回写余额与上次执行时间。
func (r *Registry) Save(ctx context.Context, id uuid.UUID, v *strategy.Vault) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("registry: 序列化 vault 失败: %w", err)
	}

	res, err := r.store.DB().ExecContext(ctx,
		`UPDATE vaults SET data = ?, updated_at = ? WHERE id = ?`,
		data, time.Now().UTC().Format(time.RFC3339), id.String(),
	)
	if err != nil {
		return fmt.Errorf("registry: 更新 vault 失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get 读取单个 vault。
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT id, name, fingerprint, condition_src, action_src, data, created_at, updated_at
		 FROM vaults WHERE id = ?`, id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// List 按创建时间返回全部 vault。内容损坏的记录记录告警后跳过，
// 不影响其余 vault 的调度；读取单条时 Get 仍会返回该错误。
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, name, fingerprint, condition_src, action_src, data, created_at, updated_at
		 FROM vaults ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("registry: 查询 vault 失败: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if errors.Is(err, ErrCorrupt) {
			r.logger.Warn("跳过损坏的 vault 记录", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: 读取 vault 失败: %w", err)
	}
	return out, nil
}

// Delete 删除 vault。
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.store.DB().ExecContext(ctx, `DELETE FROM vaults WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("registry: 删除 vault 失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec              Record
		id               string
		data             []byte
		created, updated string
	)
	if err := s.Scan(&id, &rec.Name, &rec.Fingerprint, &rec.Condition, &rec.Actions, &data, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("registry: 解析 vault 失败: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("%w: vault id %q 无效: %v", ErrCorrupt, id, err)
	}
	rec.ID = parsed

	var v strategy.Vault
	if err := v.UnmarshalBinary(data); err != nil {
		return Record{}, fmt.Errorf("%w: vault %s 数据损坏: %w", ErrCorrupt, id, err)
	}
	rec.Vault = &v

	if rec.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return Record{}, fmt.Errorf("%w: vault %s created_at 无效: %w", ErrCorrupt, id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return Record{}, fmt.Errorf("%w: vault %s updated_at 无效: %w", ErrCorrupt, id, err)
	}
	return rec, nil
}
