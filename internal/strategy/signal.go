package strategy

import (
	"errors"

	"binance-flow-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroFlow 表示流入与流出之和为零，信号强度无定义
	ErrZeroFlow = errors.New("flow metric sums to zero: signal strength undefined")
	// ErrNegativeFlow 表示数据源返回了负的流量
	ErrNegativeFlow = errors.New("flow metric contains a negative value")
)

// NewThresholds 从配置中的浮点阈值构造 Thresholds
func NewThresholds(buy, sell float64) models.Thresholds {
	return models.Thresholds{
		Buy:  decimal.NewFromFloat(buy),
		Sell: decimal.NewFromFloat(sell),
	}
}

// CalculateSignal 计算 strength = inflow / (inflow + outflow)，并按阈值映射为动作。
// 落在 [Sell, Buy] 闭区间内的强度一律为 hold。
func CalculateSignal(metric models.FlowMetric, th models.Thresholds) (models.Signal, error) {
	if metric.Inflow.IsNegative() || metric.Outflow.IsNegative() {
		return models.Signal{}, ErrNegativeFlow
	}
	total := metric.Inflow.Add(metric.Outflow)
	if total.IsZero() {
		return models.Signal{}, ErrZeroFlow
	}

	strength := metric.Inflow.Div(total)

	action := models.ActionHold
	switch {
	case strength.GreaterThan(th.Buy):
		action = models.ActionBuy
	case strength.LessThan(th.Sell):
		action = models.ActionSell
	}

	return models.Signal{Action: action, Strength: strength}, nil
}
