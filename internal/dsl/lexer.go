package dsl

import (
	"errors"
	"fmt"
)

// ErrSyntax 为所有语法错误的统一类别。
var ErrSyntax = errors.New("dsl: syntax error")

// ErrTooDeep 表示括号与 NOT 的嵌套超过解析器的递归上限。
// 输入本身可能合法，因此不归入 ErrSyntax。
var ErrTooDeep = errors.New("dsl: nesting too deep")

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokComma
	tokWord
)

// keyword 为固定的关键字集合。
type keyword uint8

const (
	kwNone keyword = iota
	kwAnd
	kwOr
	kwNot
	kwPriceAbove
	kwPriceBelow
	kwBuy
	kwSell
	kwBorrow
	kwRepay
	kwLend
	kwRedeem
)

func lookupKeyword(word string) keyword {
	switch word {
	case "AND":
		return kwAnd
	case "OR":
		return kwOr
	case "NOT":
		return kwNot
	case "PRICE_ABOVE":
		return kwPriceAbove
	case "PRICE_BELOW":
		return kwPriceBelow
	case "BUY":
		return kwBuy
	case "SELL":
		return kwSell
	case "BORROW":
		return kwBorrow
	case "REPAY":
		return kwRepay
	case "LEND":
		return kwLend
	case "REDEEM":
		return kwRedeem
	default:
		return kwNone
	}
}

type lexeme struct {
	kind tokenKind
	text string
	kw   keyword
	pos  int
}

func (l lexeme) describe() string {
	switch l.kind {
	case tokEOF:
		return "输入结束"
	case tokWord:
		return fmt.Sprintf("%q", l.text)
	default:
		return fmt.Sprintf("'%s'", l.text)
	}
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func tokenize(input string) ([]lexeme, error) {
	out := make([]lexeme, 0, len(input)/4+1)
	for i := 0; i < len(input); {
		c := input[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			out = append(out, lexeme{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			out = append(out, lexeme{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			out = append(out, lexeme{kind: tokComma, text: ",", pos: i})
			i++
		case isWordByte(c):
			start := i
			for i < len(input) && isWordByte(input[i]) {
				i++
			}
			word := input[start:i]
			out = append(out, lexeme{kind: tokWord, text: word, kw: lookupKeyword(word), pos: start})
		default:
			return nil, fmt.Errorf("%w: 位置 %d: 非法字符 %q", ErrSyntax, i, c)
		}
	}
	return append(out, lexeme{kind: tokEOF, pos: len(input)}), nil
}
