package exchange

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToFixed 将浮点价格按 decimals 位小数截断为定点整数。
func ToFixed(v float64, decimals int32) (uint64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrPriceRange, v)
	}
	d := decimal.NewFromFloat(v).Shift(decimals).Truncate(0)
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: 负值 %v", ErrPriceRange, v)
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %v 超出 uint64", ErrPriceRange, v)
	}
	return n.Uint64(), nil
}

// FromFixed 将定点整数还原为十进制数。
func FromFixed(v uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals)
}
