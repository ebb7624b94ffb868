package arena

import (
	"errors"
	"math"
)

// Index 为节点在 arena 中的位置。
type Index uint8

// MaxNodes 为单棵树允许的节点上限，受 Index 宽度约束。
const MaxNodes = math.MaxUint8

var (
	// ErrCapacity 表示组合后节点数超过 MaxNodes。
	ErrCapacity = errors.New("arena: tree exceeds node capacity")
	// ErrConsumed 表示 builder 已被组合或构建消费。
	ErrConsumed = errors.New("arena: builder already consumed")
	// ErrEmptyTree 表示树中没有任何节点。
	ErrEmptyTree = errors.New("arena: empty tree")
	// ErrInvalidIndex 表示节点引用违反拓扑顺序或越界。
	ErrInvalidIndex = errors.New("arena: invalid node index")
	// ErrInvalidKind 表示出现了不允许的节点类型。
	ErrInvalidKind = errors.New("arena: invalid node kind")
	// ErrCorrupt 表示二进制数据无法解码。
	ErrCorrupt = errors.New("arena: corrupt encoding")
)

// Kind 表示节点类型。
type Kind uint8

const (
	KindAtomic Kind = iota
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindAtomic:
		return "atomic"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	default:
		return "unknown"
	}
}

// KindSet 为允许出现的节点类型集合。
type KindSet uint8

// Kinds 组装 KindSet。
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// AllKinds 允许全部节点类型。
var AllKinds = Kinds(KindAtomic, KindAnd, KindOr, KindNot)

// Has 判断集合是否包含 k。
func (s KindSet) Has(k Kind) bool {
	return k <= KindNot && s&(1<<k) != 0
}

// Node 是 arena 中的单个节点。Atomic 节点只使用 Payload，
// And/Or 使用 Left/Right，Not 的子节点存放在 Left。
type Node[P any] struct {
	Kind    Kind
	Payload P
	Left    Index
	Right   Index
}

// Child 返回 Not 节点的子节点位置。
func (n Node[P]) Child() Index {
	return n.Left
}

// Tree 为只追加的节点序列加根索引，构建完成后不可变。
type Tree[P any] struct {
	nodes []Node[P]
	root  Index
}

// Len 返回节点数。nil 树视为空树。
func (t *Tree[P]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Root 返回根节点位置。
func (t *Tree[P]) Root() Index {
	if t == nil {
		return 0
	}
	return t.root
}

// Node 返回位置 i 的节点副本。
func (t *Tree[P]) Node(i Index) (Node[P], error) {
	if int(i) >= t.Len() {
		var zero Node[P]
		return zero, ErrInvalidIndex
	}
	return t.nodes[i], nil
}

// Nodes 返回节点序列的副本。
func (t *Tree[P]) Nodes() []Node[P] {
	if t == nil {
		return nil
	}
	return append([]Node[P](nil), t.nodes...)
}

// Validate 校验 I1/I2 以及节点类型。
func (t *Tree[P]) Validate(allowed KindSet) error {
	if t.Len() == 0 {
		return ErrEmptyTree
	}
	if len(t.nodes) > MaxNodes {
		return ErrCapacity
	}
	if int(t.root) >= len(t.nodes) {
		return ErrInvalidIndex
	}
	for pos, n := range t.nodes {
		if !allowed.Has(n.Kind) {
			return ErrInvalidKind
		}
		switch n.Kind {
		case KindAnd, KindOr:
			if int(n.Left) >= pos || int(n.Right) >= pos {
				return ErrInvalidIndex
			}
		case KindNot:
			if int(n.Left) >= pos {
				return ErrInvalidIndex
			}
		}
	}
	return nil
}

// Leaves 按从左到右的顺序返回根可达的原子载荷。
func (t *Tree[P]) Leaves() ([]P, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyTree
	}
	out := make([]P, 0, len(t.nodes))
	stack := make([]Index, 0, len(t.nodes))
	stack = append(stack, t.root)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(idx) >= len(t.nodes) {
			return nil, ErrInvalidIndex
		}
		n := t.nodes[idx]
		switch n.Kind {
		case KindAtomic:
			out = append(out, n.Payload)
		case KindAnd, KindOr:
			if n.Left >= idx || n.Right >= idx {
				return nil, ErrInvalidIndex
			}
			stack = append(stack, n.Right, n.Left)
		case KindNot:
			if n.Left >= idx {
				return nil, ErrInvalidIndex
			}
			stack = append(stack, n.Left)
		default:
			return nil, ErrInvalidKind
		}
	}
	return out, nil
}
