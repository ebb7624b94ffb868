package action

import (
	"context"
	"errors"
	"fmt"

	"strategy-engine/internal/arena"
)

var (
	codec   arena.PayloadCodec[Action] = actionCodec{}
	allowed                            = arena.Kinds(arena.KindAtomic, arena.KindAnd)
)

// ErrNoEffector 表示执行时未提供 Effector。
var ErrNoEffector = errors.New("action: effector is nil")

// Tree 为按 AND 串联的动作序列。
type Tree struct {
	arena *arena.Tree[Action]
}

// Execute 依次执行动作：And 左侧失败时右侧不会执行，结果为两侧结果的与。
// Effector 返回错误时序列立即终止并返回该错误。
func (t *Tree) Execute(ctx context.Context, eff Effector) (bool, error) {
	if eff == nil {
		return false, ErrNoEffector
	}
	if t.Len() == 0 {
		return false, fmt.Errorf("action: %w", arena.ErrEmptyTree)
	}
	return t.arena.Eval(func(a Action) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := eff.Apply(ctx, a)
		if err != nil {
			return false, fmt.Errorf("action: 执行 %s 失败: %w", a.Kind, err)
		}
		return ok, nil
	})
}

// Actions 按执行顺序返回全部动作。
func (t *Tree) Actions() []Action {
	leaves, err := t.Arena().Leaves()
	if err != nil {
		return nil
	}
	return leaves
}

// Arena 返回底层 arena。
func (t *Tree) Arena() *arena.Tree[Action] {
	if t == nil {
		return nil
	}
	return t.arena
}

// Len 返回节点数。
func (t *Tree) Len() int {
	return t.Arena().Len()
}

// Size 返回 MarshalBinary 输出的精确字节数。
func (t *Tree) Size() int {
	return t.Arena().Size(codec)
}

// AppendBinary 将编码追加到 dst。
func (t *Tree) AppendBinary(dst []byte) []byte {
	return t.Arena().AppendBinary(dst, codec)
}

// MarshalBinary 返回持久化使用的字节形式。
func (t *Tree) MarshalBinary() ([]byte, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("action: %w", arena.ErrEmptyTree)
	}
	return t.AppendBinary(make([]byte, 0, t.Size())), nil
}

// UnmarshalBinary 从字节恢复动作树，多余字节视为错误。
func (t *Tree) UnmarshalBinary(data []byte) error {
	tree, n, err := Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: 动作树之后存在 %d 字节多余数据", arena.ErrCorrupt, len(data)-n)
	}
	*t = *tree
	return nil
}

// Decode 从 data 开头解码动作树，返回消耗的字节数。Or/Not 节点会被拒绝。
func Decode(data []byte) (*Tree, int, error) {
	tree, n, err := arena.Decode(data, codec, allowed)
	if err != nil {
		return nil, 0, fmt.Errorf("action: 解码失败: %w", err)
	}
	return &Tree{arena: tree}, n, nil
}
