package arena

import (
	"encoding/binary"
	"fmt"
)

// 编码布局与链上账户一致：
//
//	u32 LE 节点数 | 节点... | u8 root
//
// 节点以 u8 类型标签开头；Atomic 后接载荷，And/Or 后接左右索引，Not 后接子索引。
const (
	lenPrefixSize = 4
	tagSize       = 1
	indexSize     = 1
)

// PayloadCodec 负责原子载荷的定长编码。
type PayloadCodec[P any] interface {
	Size(p P) int
	Append(dst []byte, p P) []byte
	Decode(src []byte) (P, int, error)
}

// Size 返回编码后的精确字节数。空树没有合法编码，返回 0。
func (t *Tree[P]) Size(codec PayloadCodec[P]) int {
	if t.Len() == 0 {
		return 0
	}
	size := lenPrefixSize + indexSize
	for _, n := range t.nodes {
		size += nodeSize(n, codec)
	}
	return size
}

func nodeSize[P any](n Node[P], codec PayloadCodec[P]) int {
	switch n.Kind {
	case KindAtomic:
		return tagSize + codec.Size(n.Payload)
	case KindAnd, KindOr:
		return tagSize + 2*indexSize
	default:
		return tagSize + indexSize
	}
}

// AppendBinary 将树编码追加到 dst。空树不写入任何字节。
func (t *Tree[P]) AppendBinary(dst []byte, codec PayloadCodec[P]) []byte {
	if t.Len() == 0 {
		return dst
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.nodes)))
	for _, n := range t.nodes {
		dst = append(dst, byte(n.Kind))
		switch n.Kind {
		case KindAtomic:
			dst = codec.Append(dst, n.Payload)
		case KindAnd, KindOr:
			dst = append(dst, byte(n.Left), byte(n.Right))
		default:
			dst = append(dst, byte(n.Left))
		}
	}
	return append(dst, byte(t.root))
}

// Decode 从 data 开头解码一棵树，返回树与消耗的字节数。
// 解码结果会按 allowed 校验节点类型以及 I1/I2。
func Decode[P any](data []byte, codec PayloadCodec[P], allowed KindSet) (*Tree[P], int, error) {
	if len(data) < lenPrefixSize {
		return nil, 0, fmt.Errorf("%w: 缺少节点数前缀", ErrCorrupt)
	}
	count := binary.LittleEndian.Uint32(data)
	if count == 0 {
		return nil, 0, ErrEmptyTree
	}
	if count > MaxNodes {
		return nil, 0, fmt.Errorf("%w: 节点数 %d", ErrCapacity, count)
	}

	off := lenPrefixSize
	nodes := make([]Node[P], 0, count)
	for i := uint32(0); i < count; i++ {
		if off >= len(data) {
			return nil, 0, fmt.Errorf("%w: 节点 %d 截断", ErrCorrupt, i)
		}
		n := Node[P]{Kind: Kind(data[off])}
		off += tagSize
		switch n.Kind {
		case KindAtomic:
			payload, used, err := codec.Decode(data[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("%w: 节点 %d: %v", ErrCorrupt, i, err)
			}
			n.Payload = payload
			off += used
		case KindAnd, KindOr:
			if off+2*indexSize > len(data) {
				return nil, 0, fmt.Errorf("%w: 节点 %d 截断", ErrCorrupt, i)
			}
			n.Left, n.Right = Index(data[off]), Index(data[off+1])
			off += 2 * indexSize
		case KindNot:
			if off+indexSize > len(data) {
				return nil, 0, fmt.Errorf("%w: 节点 %d 截断", ErrCorrupt, i)
			}
			n.Left = Index(data[off])
			off += indexSize
		default:
			return nil, 0, fmt.Errorf("%w: 节点 %d 类型标签 %d", ErrInvalidKind, i, data[off-tagSize])
		}
		nodes = append(nodes, n)
	}

	if off >= len(data) {
		return nil, 0, fmt.Errorf("%w: 缺少根索引", ErrCorrupt)
	}
	tree := &Tree[P]{nodes: nodes, root: Index(data[off])}
	off += indexSize

	if err := tree.Validate(allowed); err != nil {
		return nil, 0, err
	}
	return tree, off, nil
}
