package condition

import (
	"strategy-engine/internal/arena"
	"strategy-engine/internal/token"
)

// Builder 以链式组合构造条件树。And/Or/Not 会消费参与组合的 builder。
type Builder struct {
	b *arena.Builder[Predicate]
}

// PriceAbove 创建 "价格严格高于 threshold" 的单节点 builder。
func PriceAbove(tok token.Token, threshold uint64) *Builder {
	return &Builder{b: arena.Leaf(Predicate{Kind: KindPriceAbove, Token: tok, Threshold: threshold})}
}

// PriceBelow 创建 "价格严格低于 threshold" 的单节点 builder。
func PriceBelow(tok token.Token, threshold uint64) *Builder {
	return &Builder{b: arena.Leaf(Predicate{Kind: KindPriceBelow, Token: tok, Threshold: threshold})}
}

// Atomic 以任意谓词创建单节点 builder。
func Atomic(p Predicate) *Builder {
	return &Builder{b: arena.Leaf(p)}
}

// And 返回 b AND other。
func (b *Builder) And(other *Builder) *Builder {
	return b.combine(arena.KindAnd, other)
}

// Or 返回 b OR other。
func (b *Builder) Or(other *Builder) *Builder {
	return b.combine(arena.KindOr, other)
}

// Not 返回 NOT b。
func (b *Builder) Not() *Builder {
	return &Builder{b: b.inner().Negate()}
}

// Not 返回 NOT inner。
func Not(inner *Builder) *Builder {
	return inner.Not()
}

// Err 返回构造过程中记录的错误。
func (b *Builder) Err() error {
	return b.inner().Err()
}

// Len 返回当前节点数。
func (b *Builder) Len() int {
	return b.inner().Len()
}

// Build 返回不可变的条件树。
func (b *Builder) Build() (*Tree, error) {
	tree, err := b.inner().Build()
	if err != nil {
		return nil, err
	}
	return &Tree{arena: tree}, nil
}

func (b *Builder) combine(kind arena.Kind, other *Builder) *Builder {
	return &Builder{b: b.inner().Combine(kind, other.inner())}
}

func (b *Builder) inner() *arena.Builder[Predicate] {
	if b == nil || b.b == nil {
		return arena.Failed[Predicate](arena.ErrEmptyTree)
	}
	return b.b
}
