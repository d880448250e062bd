package exchange

import (
	"binance-flow-bot-go/internal/models"
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// stubExchange 是一个只提供行情的内存交易所
type stubExchange struct {
	mu          sync.Mutex
	price       decimal.Decimal
	priceErr    error
	candle      *models.Candle
	candleCalls int
	orders      []models.OrderRequest
}

func (s *stubExchange) GetServerTime(ctx context.Context) (int64, error) { return 0, nil }

func (s *stubExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (s *stubExchange) SetMarginType(ctx context.Context, symbol string, marginType models.MarginType) error {
	return nil
}

func (s *stubExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.NewFromInt(-1), nil
}

func (s *stubExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.priceErr
}

func (s *stubExchange) GetLatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candleCalls++
	return s.candle, nil
}

func (s *stubExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, req)
	return &models.Order{Symbol: req.Symbol, Status: "FILLED"}, nil
}

func (s *stubExchange) setPrice(p string) {
	s.mu.Lock()
	s.price = decimal.RequireFromString(p)
	s.mu.Unlock()
}

func (s *stubExchange) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candleCalls
}
