package dsl

import (
	"strconv"
	"strings"

	"strategy-engine/internal/action"
	"strategy-engine/internal/arena"
	"strategy-engine/internal/condition"
)

// FormatCondition 输出完全加括号的规范形式：原子为 KEYWORD(token,number)，
// 二元节点为 (L AND R) / (L OR R)，取反为 (NOT X)。
func FormatCondition(tree *condition.Tree) (string, error) {
	var sb strings.Builder
	if err := writeCondition(&sb, tree.Arena(), true); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CanonicalCondition 与 FormatCondition 相同，但去掉最外层括号。
// 对规范输入，ParseCondition 后再 CanonicalCondition 可得到原字符串。
func CanonicalCondition(tree *condition.Tree) (string, error) {
	var sb strings.Builder
	if err := writeCondition(&sb, tree.Arena(), false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

type formatStep struct {
	idx   arena.Index
	text  string
	emit  bool
	outer bool
}

func writeCondition(sb *strings.Builder, t *arena.Tree[condition.Predicate], wrapRoot bool) error {
	stack := []formatStep{{idx: t.Root(), outer: !wrapRoot}}
	for len(stack) > 0 {
		step := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if step.emit {
			sb.WriteString(step.text)
			continue
		}

		n, err := t.Node(step.idx)
		if err != nil {
			return err
		}
		lparen, rparen := "(", ")"
		if step.outer {
			lparen, rparen = "", ""
		}

		// 逆序压栈
		switch n.Kind {
		case arena.KindAtomic:
			writeAtomic(sb, n.Payload.Kind.Keyword(), n.Payload.Token.String(), n.Payload.Threshold)
		case arena.KindAnd, arena.KindOr:
			op := " AND "
			if n.Kind == arena.KindOr {
				op = " OR "
			}
			if n.Left >= step.idx || n.Right >= step.idx {
				return arena.ErrInvalidIndex
			}
			stack = append(stack,
				formatStep{emit: true, text: rparen},
				formatStep{idx: n.Right},
				formatStep{emit: true, text: op},
				formatStep{idx: n.Left},
				formatStep{emit: true, text: lparen},
			)
		case arena.KindNot:
			if n.Left >= step.idx {
				return arena.ErrInvalidIndex
			}
			stack = append(stack,
				formatStep{emit: true, text: rparen},
				formatStep{idx: n.Left},
				formatStep{emit: true, text: lparen + "NOT "},
			)
		default:
			return arena.ErrInvalidKind
		}
	}
	return nil
}

func writeAtomic(sb *strings.Builder, kw, tok string, num uint64) {
	sb.WriteString(kw)
	sb.WriteByte('(')
	sb.WriteString(tok)
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatUint(num, 10))
	sb.WriteByte(')')
}

// FormatActions 按执行顺序输出 A1 AND A2 AND ...。
func FormatActions(tree *action.Tree) string {
	var sb strings.Builder
	for i, a := range tree.Actions() {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		writeAtomic(&sb, a.Kind.Keyword(), a.Token.String(), a.Amount)
	}
	return sb.String()
}
