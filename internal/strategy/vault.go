package strategy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"strategy-engine/internal/action"
	"strategy-engine/internal/arena"
	"strategy-engine/internal/condition"
)

var (
	// ErrBalanceOverflow 表示存入后余额超过 uint64 上限。
	ErrBalanceOverflow = errors.New("strategy: balance overflow")
	// ErrInsufficientBalance 表示取出金额大于余额。
	ErrInsufficientBalance = errors.New("strategy: insufficient balance")
)

// Vault 持有一条策略及其余额。
type Vault struct {
	Strategy Strategy
	Balance  uint64
}

// NewVault 以零余额创建 vault。
func NewVault(s *Strategy) *Vault {
	return &Vault{Strategy: *s}
}

// Deposit 增加余额，溢出时余额保持不变。
func (v *Vault) Deposit(amount uint64) error {
	sum, carry := bits.Add64(v.Balance, amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	v.Balance = sum
	return nil
}

// Withdraw 减少余额，不足时余额保持不变。
func (v *Vault) Withdraw(amount uint64) error {
	diff, borrow := bits.Sub64(v.Balance, amount, 0)
	if borrow != 0 {
		return ErrInsufficientBalance
	}
	v.Balance = diff
	return nil
}

// Outcome 描述一次 Execute 的各阶段结果。
type Outcome struct {
	Due       bool
	Triggered bool
	Executed  bool
}

// Execute 在到期时对条件求值，成立则执行动作序列。
// 仅当动作序列整体成功时才更新 LastExecutedAt。
func (v *Vault) Execute(ctx context.Context, prices condition.Prices, eff action.Effector, now int64) (Outcome, error) {
	var out Outcome
	s := &v.Strategy
	if !s.Due(now) {
		return out, nil
	}
	out.Due = true

	ok, err := s.Condition.Evaluate(prices)
	if err != nil {
		return out, fmt.Errorf("strategy: 条件求值失败: %w", err)
	}
	if !ok {
		return out, nil
	}
	out.Triggered = true

	executed, err := s.Action.Execute(ctx, eff)
	if err != nil {
		return out, err
	}
	if executed {
		out.Executed = true
		s.LastExecutedAt = now
	}
	return out, nil
}

// Size 返回 MarshalBinary 输出的精确字节数。
func (v *Vault) Size() int {
	if !v.Strategy.complete() {
		return 0
	}
	return v.Strategy.Size() + 8
}

// MarshalBinary 写入策略后追加 u64 余额。
func (v *Vault) MarshalBinary() ([]byte, error) {
	if !v.Strategy.complete() {
		return nil, errMissingTree
	}
	dst := v.Strategy.AppendBinary(make([]byte, 0, v.Size()))
	return binary.LittleEndian.AppendUint64(dst, v.Balance), nil
}

// UnmarshalBinary 从字节恢复 vault。
func (v *Vault) UnmarshalBinary(data []byte) error {
	s, n, err := Decode(data)
	if err != nil {
		return err
	}
	switch rest := len(data) - n; {
	case rest < 8:
		return fmt.Errorf("strategy: %w: 余额字段被截断", arena.ErrCorrupt)
	case rest > 8:
		return fmt.Errorf("%w: vault 之后存在 %d 字节多余数据", arena.ErrCorrupt, rest-8)
	}
	v.Strategy = *s
	v.Balance = binary.LittleEndian.Uint64(data[n:])
	return nil
}
