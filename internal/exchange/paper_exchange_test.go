package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-flow-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func newTestPaper(feeRate, slippage float64) (*PaperExchange, *stubExchange) {
	market := &stubExchange{}
	p := NewPaperExchange(market, models.PaperConfig{
		InitialBalance: 10000,
		TakerFeeRate:   feeRate,
		SlippageRate:   slippage,
	}, "BTCUSDT", "USDT", zap.NewNop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	p.now = func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Hour)
	}
	return p, market
}

func order(side models.Side, qty string) models.OrderRequest {
	return models.OrderRequest{Symbol: "BTCUSDT", Side: side, Quantity: d(qty), ClientOrderID: "fb-test"}
}

func TestPaperExchange_OpenAndCloseLong(t *testing.T) {
	p, market := newTestPaper(0.0004, 0)
	ctx := context.Background()

	market.setPrice("50000")
	o, err := p.PlaceMarketOrder(ctx, order(models.Buy, "0.002"))
	require.NoError(t, err)
	assert.Equal(t, "FILLED", o.Status)
	assert.Equal(t, int64(1), o.OrderId)
	assert.Equal(t, "fb-test", o.ClientOrderId)
	assert.Equal(t, "50000", o.AvgPrice)

	balance, err := p.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assertDecimal(t, "9999.96", balance)

	market.setPrice("51000")
	_, err = p.PlaceMarketOrder(ctx, order(models.Sell, "0.002"))
	require.NoError(t, err)

	s := p.Summary()
	assert.True(t, s.Position.IsZero())
	assert.True(t, s.AvgEntryPrice.IsZero())
	assertDecimal(t, "2", s.RealizedPNL)
	assertDecimal(t, "0.0808", s.TotalFees)
	assertDecimal(t, "10001.9192", s.WalletBalance)
	assert.Equal(t, 2, s.Fills)

	require.Len(t, s.Trades, 1)
	trade := s.Trades[0]
	assert.Equal(t, models.Buy, trade.Side)
	assertDecimal(t, "50000", trade.EntryPrice)
	assertDecimal(t, "51000", trade.ExitPrice)
	assertDecimal(t, "1.9592", trade.Profit)
	assert.Equal(t, time.Hour, trade.HoldDuration)
}

func TestPaperExchange_ShortAndReverse(t *testing.T) {
	p, market := newTestPaper(0, 0)
	ctx := context.Background()

	market.setPrice("50000")
	_, err := p.PlaceMarketOrder(ctx, order(models.Sell, "0.003"))
	require.NoError(t, err)
	s := p.Summary()
	assertDecimal(t, "-0.003", s.Position)
	assertDecimal(t, "50000", s.AvgEntryPrice)

	// 空仓在下跌中盈利, 然后反手做多
	market.setPrice("49000")
	_, err = p.PlaceMarketOrder(ctx, order(models.Buy, "0.005"))
	require.NoError(t, err)

	s = p.Summary()
	assertDecimal(t, "0.002", s.Position)
	assertDecimal(t, "49000", s.AvgEntryPrice)
	assertDecimal(t, "3", s.RealizedPNL)
	assertDecimal(t, "10003", s.WalletBalance)
	require.Len(t, s.Trades, 1)
	assert.Equal(t, models.Sell, s.Trades[0].Side)
	assertDecimal(t, "0.003", s.Trades[0].Quantity)
}

func TestPaperExchange_AddToPositionAveragesEntry(t *testing.T) {
	p, market := newTestPaper(0, 0)
	ctx := context.Background()

	market.setPrice("100")
	_, err := p.PlaceMarketOrder(ctx, order(models.Buy, "1"))
	require.NoError(t, err)
	market.setPrice("200")
	_, err = p.PlaceMarketOrder(ctx, order(models.Buy, "3"))
	require.NoError(t, err)

	s := p.Summary()
	assertDecimal(t, "4", s.Position)
	assertDecimal(t, "175", s.AvgEntryPrice)
	assert.Empty(t, s.Trades)
}

func TestPaperExchange_Slippage(t *testing.T) {
	p, market := newTestPaper(0, 0.001)
	ctx := context.Background()
	market.setPrice("50000")

	o, err := p.PlaceMarketOrder(ctx, order(models.Buy, "1"))
	require.NoError(t, err)
	assert.Equal(t, "50050", o.AvgPrice)

	o, err = p.PlaceMarketOrder(ctx, order(models.Sell, "1"))
	require.NoError(t, err)
	assert.Equal(t, "49950", o.AvgPrice)
	assertDecimal(t, "-100", p.Summary().RealizedPNL)
}

func TestPaperExchange_MarkToMarket(t *testing.T) {
	p, market := newTestPaper(0, 0)
	ctx := context.Background()

	market.setPrice("50000")
	_, err := p.PlaceMarketOrder(ctx, order(models.Buy, "0.002"))
	require.NoError(t, err)

	market.setPrice("52000")
	_, err = p.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)

	s := p.Summary()
	assertDecimal(t, "4", s.UnrealizedPNL)
	assertDecimal(t, "10004", s.Equity)
	// 钱包余额不含未实现盈亏
	assertDecimal(t, "10000", s.WalletBalance)
	assertDecimal(t, "10004", s.EquityCurve[len(s.EquityCurve)-1])
}

func TestPaperExchange_Rejections(t *testing.T) {
	p, market := newTestPaper(0, 0)
	ctx := context.Background()
	market.setPrice("50000")

	_, err := p.PlaceMarketOrder(ctx, order(models.Buy, "0"))
	assert.ErrorIs(t, err, models.ErrRejected)

	_, err = p.PlaceMarketOrder(ctx, models.OrderRequest{Symbol: "ETHUSDT", Side: models.Buy, Quantity: d("1")})
	assert.ErrorIs(t, err, models.ErrRejected)

	market.priceErr = &models.RequestError{Op: "获取当前价格", Kind: models.ErrNetwork, Err: errors.New("timeout")}
	_, err = p.PlaceMarketOrder(ctx, order(models.Buy, "1"))
	assert.ErrorIs(t, err, models.ErrNetwork)

	assert.Empty(t, p.Fills())
	_, err = p.GetBalance(ctx, "BUSD")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestPaperExchange_AccountSetupIsLocal(t *testing.T) {
	p, _ := newTestPaper(0, 0)
	ctx := context.Background()
	require.NoError(t, p.SetLeverage(ctx, "BTCUSDT", 20))
	require.NoError(t, p.SetMarginType(ctx, "BTCUSDT", models.Isolated))
	assert.Equal(t, 20, p.leverage)
	assert.Equal(t, models.Isolated, p.marginType)
}
