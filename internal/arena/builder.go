package arena

// Builder 以组合方式构造 Tree。组合操作会消费参与的 builder，
// 错误在链式调用中保留，由 Build 统一返回。
type Builder[P any] struct {
	nodes    []Node[P]
	root     Index
	err      error
	consumed bool
}

// Leaf 创建只含一个原子节点的 builder。
func Leaf[P any](payload P) *Builder[P] {
	return &Builder[P]{
		nodes: []Node[P]{{Kind: KindAtomic, Payload: payload}},
	}
}

// Failed 返回携带错误的 builder。
func Failed[P any](err error) *Builder[P] {
	return &Builder[P]{err: err}
}

// Err 返回链式构造过程中记录的错误。
func (b *Builder[P]) Err() error {
	if b == nil {
		return ErrEmptyTree
	}
	if b.err != nil {
		return b.err
	}
	if b.consumed {
		return ErrConsumed
	}
	if len(b.nodes) == 0 {
		return ErrEmptyTree
	}
	return nil
}

// Len 返回当前节点数。
func (b *Builder[P]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.nodes)
}

// Combine 以 kind (And/Or) 组合 b 与 other，二者均被消费。
func (b *Builder[P]) Combine(kind Kind, other *Builder[P]) *Builder[P] {
	if kind != KindAnd && kind != KindOr {
		return b.fail(ErrInvalidKind, other)
	}
	if b == other {
		return b.fail(ErrConsumed, other)
	}
	if err := b.Err(); err != nil {
		return b.fail(err, other)
	}
	if err := other.Err(); err != nil {
		return b.fail(err, other)
	}

	total := len(b.nodes) + len(other.nodes) + 1
	if total > MaxNodes {
		return b.fail(ErrCapacity, other)
	}

	offset := Index(len(b.nodes))
	nodes := make([]Node[P], 0, total)
	nodes = append(nodes, b.nodes...)
	for _, n := range other.nodes {
		nodes = append(nodes, rebase(n, offset))
	}
	nodes = append(nodes, Node[P]{
		Kind:  kind,
		Left:  b.root,
		Right: other.root + offset,
	})

	b.release()
	other.release()
	return &Builder[P]{nodes: nodes, root: Index(total - 1)}
}

// Negate 在 b 之上追加 Not 节点，b 被消费。
func (b *Builder[P]) Negate() *Builder[P] {
	if err := b.Err(); err != nil {
		return b.fail(err, nil)
	}
	total := len(b.nodes) + 1
	if total > MaxNodes {
		return b.fail(ErrCapacity, nil)
	}

	nodes := make([]Node[P], 0, total)
	nodes = append(nodes, b.nodes...)
	nodes = append(nodes, Node[P]{Kind: KindNot, Left: b.root})

	b.release()
	return &Builder[P]{nodes: nodes, root: Index(total - 1)}
}

// Build 完成构造并返回不可变的 Tree，b 被消费。
func (b *Builder[P]) Build() (*Tree[P], error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	tree := &Tree[P]{nodes: b.nodes, root: b.root}
	b.release()
	return tree, nil
}

func (b *Builder[P]) release() {
	b.nodes = nil
	b.root = 0
	b.consumed = true
}

func (b *Builder[P]) fail(err error, other *Builder[P]) *Builder[P] {
	if b != nil {
		b.release()
	}
	if other != nil {
		other.release()
	}
	return Failed[P](err)
}

func rebase[P any](n Node[P], offset Index) Node[P] {
	switch n.Kind {
	case KindAnd, KindOr:
		n.Left += offset
		n.Right += offset
	case KindNot:
		n.Left += offset
	}
	return n
}
