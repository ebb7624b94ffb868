package condition

import (
	"fmt"

	"strategy-engine/internal/arena"
	"strategy-engine/internal/token"
)

var codec arena.PayloadCodec[Predicate] = predicateCodec{}

// Tree 为 AND/OR/NOT 价格谓词组成的布尔表达式树。
type Tree struct {
	arena *arena.Tree[Predicate]
}

// Evaluate 在 prices 上对整棵树求值。仅在树结构损坏时返回错误。
func (t *Tree) Evaluate(prices Prices) (bool, error) {
	if t.Len() == 0 {
		return false, fmt.Errorf("condition: %w", arena.ErrEmptyTree)
	}
	return t.arena.Eval(func(p Predicate) (bool, error) {
		return p.Holds(prices), nil
	})
}

// Arena 返回底层 arena，供序列化使用。
func (t *Tree) Arena() *arena.Tree[Predicate] {
	if t == nil {
		return nil
	}
	return t.arena
}

// Len 返回节点数。
func (t *Tree) Len() int {
	return t.Arena().Len()
}

// Tokens 返回树中引用的去重 token，顺序为首次出现顺序。
func (t *Tree) Tokens() []token.Token {
	leaves, err := t.Arena().Leaves()
	if err != nil {
		return nil
	}
	seen := make(map[token.Token]struct{}, len(leaves))
	out := make([]token.Token, 0, len(leaves))
	for _, p := range leaves {
		if _, ok := seen[p.Token]; ok {
			continue
		}
		seen[p.Token] = struct{}{}
		out = append(out, p.Token)
	}
	return out
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
		return nil, fmt.Errorf("condition: %w", arena.ErrEmptyTree)
	}
	return t.AppendBinary(make([]byte, 0, t.Size())), nil
}

// UnmarshalBinary 从字节恢复条件树，多余字节视为错误。
func (t *Tree) UnmarshalBinary(data []byte) error {
	tree, n, err := Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: 条件树之后存在 %d 字节多余数据", arena.ErrCorrupt, len(data)-n)
	}
	*t = *tree
	return nil
}

// Decode 从 data 开头解码条件树，返回消耗的字节数。
func Decode(data []byte) (*Tree, int, error) {
	tree, n, err := arena.Decode(data, codec, arena.AllKinds)
	if err != nil {
		return nil, 0, fmt.Errorf("condition: 解码失败: %w", err)
	}
	return &Tree{arena: tree}, n, nil
}
