package arena

import "fmt"

// LeafFunc 计算单个原子节点。返回错误时遍历立即终止。
type LeafFunc[P any] func(payload P) (bool, error)

type frame struct {
	idx   Index
	stage uint8
}

// Eval 以显式栈自根遍历整棵树：And 在左侧为 false 时不再访问右侧，
// Or 在左侧为 true 时不再访问右侧，Not 取反。原子节点按从左到右的顺序求值。
func (t *Tree[P]) Eval(leaf LeafFunc[P]) (bool, error) {
	if t.Len() == 0 {
		return false, ErrEmptyTree
	}
	if int(t.root) >= len(t.nodes) {
		return false, fmt.Errorf("%w: root %d", ErrInvalidIndex, t.root)
	}

	stack := make([]frame, 1, MaxNodes+1)
	stack[0] = frame{idx: t.root}
	var result bool

	for len(stack) > 0 {
		top := len(stack) - 1
		cur := stack[top]
		n := t.nodes[cur.idx]

		switch n.Kind {
		case KindAtomic:
			ok, err := leaf(n.Payload)
			if err != nil {
				return false, err
			}
			result = ok
			stack = stack[:top]

		case KindNot:
			if cur.stage == 0 {
				if n.Left >= cur.idx {
					return false, fmt.Errorf("%w: 节点 %d 引用 %d", ErrInvalidIndex, cur.idx, n.Left)
				}
				stack[top].stage = 1
				stack = append(stack, frame{idx: n.Left})
				continue
			}
			result = !result
			stack = stack[:top]

		case KindAnd, KindOr:
			switch cur.stage {
			case 0:
				if n.Left >= cur.idx || n.Right >= cur.idx {
					return false, fmt.Errorf("%w: 节点 %d 引用 %d/%d", ErrInvalidIndex, cur.idx, n.Left, n.Right)
				}
				stack[top].stage = 1
				stack = append(stack, frame{idx: n.Left})
			case 1:
				// And 左侧为 false、Or 左侧为 true 时结果已确定
				if result == (n.Kind == KindOr) {
					stack = stack[:top]
					continue
				}
				stack[top].stage = 2
				stack = append(stack, frame{idx: n.Right})
			default:
				stack = stack[:top]
			}

		default:
			return false, fmt.Errorf("%w: 节点 %d", ErrInvalidKind, cur.idx)
		}
	}

	return result, nil
}
