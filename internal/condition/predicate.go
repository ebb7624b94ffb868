package condition

import (
	"encoding/binary"
	"fmt"

	"strategy-engine/internal/token"
)

// Kind 表示价格谓词类型。
type Kind uint8

const (
	KindPriceAbove Kind = iota
	KindPriceBelow
)

// Keyword 返回 DSL 关键字。
func (k Kind) Keyword() string {
	switch k {
	case KindPriceAbove:
		return "PRICE_ABOVE"
	case KindPriceBelow:
		return "PRICE_BELOW"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

func (k Kind) String() string {
	return k.Keyword()
}

// Predicate 为条件树的原子载荷。
type Predicate struct {
	Kind      Kind
	Token     token.Token
	Threshold uint64
}

// Prices 为单次求值使用的 token → 价格映射，对引擎只读。
type Prices map[token.Token]uint64

// Holds 判断谓词在给定价格下是否成立。缺少价格时返回 false。
func (p Predicate) Holds(prices Prices) bool {
	price, ok := prices[p.Token]
	if !ok {
		return false
	}
	switch p.Kind {
	case KindPriceAbove:
		return price > p.Threshold
	case KindPriceBelow:
		return price < p.Threshold
	default:
		return false
	}
}

const predicateSize = 1 + token.Size + 8

type predicateCodec struct{}

func (predicateCodec) Size(Predicate) int {
	return predicateSize
}

func (predicateCodec) Append(dst []byte, p Predicate) []byte {
	dst = append(dst, byte(p.Kind))
	dst = append(dst, p.Token[:]...)
	return binary.LittleEndian.AppendUint64(dst, p.Threshold)
}

func (predicateCodec) Decode(src []byte) (Predicate, int, error) {
	var p Predicate
	if len(src) < predicateSize {
		return p, 0, fmt.Errorf("谓词需要 %d 字节，仅剩 %d", predicateSize, len(src))
	}
	p.Kind = Kind(src[0])
	if p.Kind != KindPriceAbove && p.Kind != KindPriceBelow {
		return p, 0, fmt.Errorf("未知谓词类型 %d", src[0])
	}
	copy(p.Token[:], src[1:1+token.Size])
	p.Threshold = binary.LittleEndian.Uint64(src[1+token.Size:])
	return p, predicateSize, nil
}
