package action

import (
	"strategy-engine/internal/arena"
	"strategy-engine/internal/token"
)

// Builder 以链式组合构造动作序列，And 会消费参与组合的 builder。
type Builder struct {
	b *arena.Builder[Action]
}

// New 以任意动作创建单节点 builder。
func New(kind Kind, tok token.Token, amount uint64) *Builder {
	if !kind.Valid() {
		return &Builder{b: arena.Failed[Action](arena.ErrInvalidKind)}
	}
	return &Builder{b: arena.Leaf(Action{Kind: kind, Token: tok, Amount: amount})}
}

func Buy(tok token.Token, amount uint64) *Builder    { return New(KindBuy, tok, amount) }
func Sell(tok token.Token, amount uint64) *Builder   { return New(KindSell, tok, amount) }
func Borrow(tok token.Token, amount uint64) *Builder { return New(KindBorrow, tok, amount) }
func Repay(tok token.Token, amount uint64) *Builder  { return New(KindRepay, tok, amount) }
func Lend(tok token.Token, amount uint64) *Builder   { return New(KindLend, tok, amount) }
func Redeem(tok token.Token, amount uint64) *Builder { return New(KindRedeem, tok, amount) }

// And 返回先执行 b、成功后再执行 other 的序列。
func (b *Builder) And(other *Builder) *Builder {
	return &Builder{b: b.inner().Combine(arena.KindAnd, other.inner())}
}

// Err 返回构造过程中记录的错误。
func (b *Builder) Err() error {
	return b.inner().Err()
}

// Len 返回当前节点数。
func (b *Builder) Len() int {
	return b.inner().Len()
}

// Build 返回不可变的动作树。
func (b *Builder) Build() (*Tree, error) {
	tree, err := b.inner().Build()
	if err != nil {
		return nil, err
	}
	return &Tree{arena: tree}, nil
}

func (b *Builder) inner() *arena.Builder[Action] {
	if b == nil || b.b == nil {
		return arena.Failed[Action](arena.ErrEmptyTree)
	}
	return b.b
}
