package strategy

import (
	"testing"

	"binance-flow-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flow(in, out int64) models.FlowMetric {
	return models.FlowMetric{Inflow: decimal.NewFromInt(in), Outflow: decimal.NewFromInt(out)}
}

func TestCalculateSignal(t *testing.T) {
	th := NewThresholds(0.6, 0.4)

	tests := []struct {
		name     string
		metric   models.FlowMetric
		action   models.Action
		strength string
	}{
		{"strong inflow buys", flow(700, 300), models.ActionBuy, "0.7"},
		{"strong outflow sells", flow(300, 700), models.ActionSell, "0.3"},
		{"balanced holds", flow(500, 500), models.ActionHold, "0.5"},
		{"buy threshold itself holds", flow(600, 400), models.ActionHold, "0.6"},
		{"sell threshold itself holds", flow(400, 600), models.ActionHold, "0.4"},
		{"all inflow buys", flow(10, 0), models.ActionBuy, "1"},
		{"all outflow sells", flow(0, 10), models.ActionSell, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := CalculateSignal(tt.metric, th)
			require.NoError(t, err)
			assert.Equal(t, tt.action, sig.Action)
			assert.True(t, decimal.RequireFromString(tt.strength).Equal(sig.Strength), "strength %s", sig.Strength)
		})
	}
}

func TestCalculateSignal_ZeroFlowFails(t *testing.T) {
	_, err := CalculateSignal(flow(0, 0), NewThresholds(0.6, 0.4))
	assert.ErrorIs(t, err, ErrZeroFlow)
}

func TestCalculateSignal_NegativeFlowFails(t *testing.T) {
	_, err := CalculateSignal(flow(-1, 5), NewThresholds(0.6, 0.4))
	assert.ErrorIs(t, err, ErrNegativeFlow)
}

// 对 [0,1000] 的所有组合检查阈值映射
func TestCalculateSignal_ThresholdMapping(t *testing.T) {
	th := NewThresholds(0.6, 0.4)
	for in := int64(0); in <= 1000; in += 25 {
		out := 1000 - in
		sig, err := CalculateSignal(flow(in, out), th)
		require.NoError(t, err)

		switch {
		case sig.Strength.GreaterThan(th.Buy):
			assert.Equal(t, models.ActionBuy, sig.Action, "strength %s", sig.Strength)
		case sig.Strength.LessThan(th.Sell):
			assert.Equal(t, models.ActionSell, sig.Action, "strength %s", sig.Strength)
		default:
			assert.Equal(t, models.ActionHold, sig.Action, "strength %s", sig.Strength)
		}
		assert.False(t, sig.Strength.IsNegative())
		assert.False(t, sig.Strength.GreaterThan(decimal.NewFromInt(1)))
	}
}
