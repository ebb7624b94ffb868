package execution

import (
	"time"

	"strategy-engine/internal/action"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest 为由单个动作生成的市价委托。
type OrderRequest struct {
	Action action.Action
	Symbol string
	Side   OrderSide
	Amount float64
	Params map[string]interface{}
}

// Fill 记录一次被接受的动作。
type Fill struct {
	Action action.Action
	Mode   string
	At     time.Time
}
