package strategy

import (
	"errors"

	"github.com/shopspring/decimal"
)

// QuantityPrecision 是下单数量保留的小数位数
const QuantityPrecision = 3

var (
	ErrInvalidPrice      = errors.New("current price must be greater than zero")
	ErrInvalidPercentage = errors.New("position percentage must be within [0, 100]")
	ErrInvalidBalance    = errors.New("balance must not be negative")
)

var hundred = decimal.NewFromInt(100)

// CalculatePositionSize 计算 quantity = round(balance * percentage / 100 / price, 3)。
// 舍入规则为四舍五入(远离零)，全程使用十进制精确运算。
// 结果为零时返回零而不是错误，由调用方决定是否跳过下单。
func CalculatePositionSize(balance, percentage, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return decimal.Zero, ErrInvalidPercentage
	}
	if balance.IsNegative() {
		return decimal.Zero, ErrInvalidBalance
	}

	notional := balance.Mul(percentage).Div(hundred)
	return notional.Div(price).Round(QuantityPrecision), nil
}
