package action

import (
	"context"
	"encoding/binary"
	"fmt"

	"strategy-engine/internal/token"
)

// Kind 表示交易动作类型。
type Kind uint8

const (
	KindBuy Kind = iota
	KindSell
	KindBorrow
	KindRepay
	KindLend
	KindRedeem
)

// Kinds 为全部动作类型，顺序与编码标签一致。
var Kinds = []Kind{KindBuy, KindSell, KindBorrow, KindRepay, KindLend, KindRedeem}

// Keyword 返回 DSL 关键字。
func (k Kind) Keyword() string {
	switch k {
	case KindBuy:
		return "BUY"
	case KindSell:
		return "SELL"
	case KindBorrow:
		return "BORROW"
	case KindRepay:
		return "REPAY"
	case KindLend:
		return "LEND"
	case KindRedeem:
		return "REDEEM"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

func (k Kind) String() string {
	return k.Keyword()
}

// Valid 判断是否为已知动作类型。
func (k Kind) Valid() bool {
	return k <= KindRedeem
}

// Action 为动作树的原子载荷。
type Action struct {
	Kind   Kind
	Token  token.Token
	Amount uint64
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%s,%d)", a.Kind.Keyword(), a.Token, a.Amount)
}

// Effector 负责实际执行单个动作，返回是否被接受并完成。
type Effector interface {
	Apply(ctx context.Context, a Action) (bool, error)
}

// EffectorFunc 允许使用函数作为 Effector。
type EffectorFunc func(ctx context.Context, a Action) (bool, error)

func (f EffectorFunc) Apply(ctx context.Context, a Action) (bool, error) {
	return f(ctx, a)
}

const actionSize = 1 + token.Size + 8

type actionCodec struct{}

func (actionCodec) Size(Action) int {
	return actionSize
}

func (actionCodec) Append(dst []byte, a Action) []byte {
	dst = append(dst, byte(a.Kind))
	dst = append(dst, a.Token[:]...)
	return binary.LittleEndian.AppendUint64(dst, a.Amount)
}

func (actionCodec) Decode(src []byte) (Action, int, error) {
	var a Action
	if len(src) < actionSize {
		return a, 0, fmt.Errorf("动作需要 %d 字节，仅剩 %d", actionSize, len(src))
	}
	a.Kind = Kind(src[0])
	if !a.Kind.Valid() {
		return a, 0, fmt.Errorf("未知动作类型 %d", src[0])
	}
	copy(a.Token[:], src[1:1+token.Size])
	a.Amount = binary.LittleEndian.Uint64(src[1+token.Size:])
	return a, actionSize, nil
}
