package dsl

import (
	"fmt"
	"strconv"

	"strategy-engine/internal/action"
	"strategy-engine/internal/arena"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/token"
)

// maxDepth 限制括号与 NOT 的嵌套层数，防止递归下降耗尽栈。
// 冗余括号不产生节点，因此该上限独立于 arena.MaxNodes 的节点容量检查。
const maxDepth = 2 * arena.MaxNodes

type parser struct {
	toks  []lexeme
	pos   int
	depth int
}

func newParser(input string) (*parser, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func (p *parser) peek() lexeme {
	return p.toks[p.pos]
}

func (p *parser) next() lexeme {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(at lexeme, format string, args ...any) error {
	return fmt.Errorf("%w: 位置 %d: %s", ErrSyntax, at.pos, fmt.Sprintf(format, args...))
}

func (p *parser) expect(kind tokenKind, what string) (lexeme, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "期望 %s，实际为 %s", what, t.describe())
	}
	return t, nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return p.errorf(t, "存在未消费的输入 %s", t.describe())
	}
	return nil
}

func (p *parser) enter(at lexeme) error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("%w: 位置 %d: 嵌套超过 %d 层", ErrTooDeep, at.pos, maxDepth)
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// ParseCondition 将条件字符串解析为 builder。任何语法错误都返回 ErrSyntax，
// 嵌套超限返回 ErrTooDeep，节点数超限返回 arena.ErrCapacity。
func ParseCondition(input string) (*condition.Builder, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, err
	}
	b, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("dsl: %w", err)
	}
	return b, nil
}

// CompileCondition 解析并构建条件树。
func CompileCondition(input string) (*condition.Tree, error) {
	b, err := ParseCondition(input)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

// expr := and_expr ( "OR" and_expr )*
func (p *parser) parseExpr() (*condition.Builder, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kw == kwOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = left.Or(right)
		if err := left.Err(); err != nil {
			return nil, fmt.Errorf("dsl: %w", err)
		}
	}
	return left, nil
}

// and_expr := term ( "AND" term )*
func (p *parser) parseAnd() (*condition.Builder, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kw == kwAnd {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = left.And(right)
		if err := left.Err(); err != nil {
			return nil, fmt.Errorf("dsl: %w", err)
		}
	}
	return left, nil
}

// term := "NOT" term | "(" expr ")" | atomic
func (p *parser) parseTerm() (*condition.Builder, error) {
	t := p.peek()
	switch {
	case t.kw == kwNot:
		p.next()
		if err := p.enter(t); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		b := inner.Not()
		if err := b.Err(); err != nil {
			return nil, fmt.Errorf("dsl: %w", err)
		}
		return b, nil

	case t.kind == tokLParen:
		p.next()
		if err := p.enter(t); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil

	case t.kw == kwPriceAbove || t.kw == kwPriceBelow:
		p.next()
		tok, num, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if t.kw == kwPriceAbove {
			return condition.PriceAbove(tok, num), nil
		}
		return condition.PriceBelow(tok, num), nil

	default:
		return nil, p.errorf(t, "期望条件，实际为 %s", t.describe())
	}
}

// "(" token "," number ")"
func (p *parser) parseArgs() (token.Token, uint64, error) {
	var tok token.Token
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return tok, 0, err
	}

	word, err := p.expect(tokWord, "token")
	if err != nil {
		return tok, 0, err
	}
	if word.kw != kwNone {
		return tok, 0, p.errorf(word, "关键字 %s 不能作为 token", word.text)
	}
	tok, err = token.Parse(word.text)
	if err != nil {
		return tok, 0, p.errorf(word, "%v", err)
	}

	if _, err := p.expect(tokComma, "','"); err != nil {
		return tok, 0, err
	}

	numWord, err := p.expect(tokWord, "数值")
	if err != nil {
		return tok, 0, err
	}
	num, err := parseNumber(numWord.text)
	if err != nil {
		return tok, 0, p.errorf(numWord, "%v", err)
	}

	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return tok, 0, err
	}
	return tok, num, nil
}

func parseNumber(s string) (uint64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%q 不是无符号十进制数", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q 超出 64 位范围", s)
	}
	return n, nil
}

// ParseActions 解析动作序列：action ( "AND" action )*。
func ParseActions(input string) (*action.Builder, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, err
	}
	seq, err := p.parseAction()
	if err != nil {
		return nil, err
	}
	for p.peek().kw == kwAnd {
		p.next()
		next, err := p.parseAction()
		if err != nil {
			return nil, err
		}
		seq = seq.And(next)
		if err := seq.Err(); err != nil {
			return nil, fmt.Errorf("dsl: %w", err)
		}
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return seq, nil
}

// CompileActions 解析并构建动作树。
func CompileActions(input string) (*action.Tree, error) {
	b, err := ParseActions(input)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

func (p *parser) parseAction() (*action.Builder, error) {
	t := p.next()
	kind, ok := actionKind(t.kw)
	if !ok {
		return nil, p.errorf(t, "期望动作关键字，实际为 %s", t.describe())
	}
	tok, amount, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	return action.New(kind, tok, amount), nil
}

func actionKind(kw keyword) (action.Kind, bool) {
	switch kw {
	case kwBuy:
		return action.KindBuy, true
	case kwSell:
		return action.KindSell, true
	case kwBorrow:
		return action.KindBorrow, true
	case kwRepay:
		return action.KindRepay, true
	case kwLend:
		return action.KindLend, true
	case kwRedeem:
		return action.KindRedeem, true
	default:
		return 0, false
	}
}
