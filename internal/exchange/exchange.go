package exchange

import (
	"binance-flow-bot-go/internal/models"
	"context"

	"github.com/shopspring/decimal"
)

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和模拟盘之间轻松切换。
type Exchange interface {
	GetServerTime(ctx context.Context) (int64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType models.MarginType) error
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetLatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
}
