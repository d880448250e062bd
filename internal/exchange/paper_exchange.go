package exchange

import (
	"binance-flow-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExchange 实现了 Exchange 接口：行情来自内嵌的真实交易所，
// 下单在本地按当前价撮合，不会向交易所发送任何订单。
type PaperExchange struct {
	Exchange

	symbol     string
	quoteAsset string
	logger     *zap.Logger
	now        func() time.Time

	mu             sync.Mutex
	initialBalance decimal.Decimal
	wallet         decimal.Decimal // 初始资金 + 已实现盈亏 - 手续费
	position       decimal.Decimal // 单向持仓, 正数为多, 负数为空
	avgEntryPrice  decimal.Decimal
	entryTime      time.Time
	markPrice      decimal.Decimal
	realizedPNL    decimal.Decimal
	totalFees      decimal.Decimal
	leverage       int
	marginType     models.MarginType
	fills          []models.Fill
	tradeLog       []models.CompletedTrade
	equityCurve    []decimal.Decimal
	nextOrderID    int64

	takerFeeRate decimal.Decimal
	slippageRate decimal.Decimal
}

// NewPaperExchange 创建一个新的模拟盘实例
func NewPaperExchange(ex Exchange, cfg models.PaperConfig, symbol, quoteAsset string, logger *zap.Logger) *PaperExchange {
	initial := decimal.NewFromFloat(cfg.InitialBalance)
	return &PaperExchange{
		Exchange:       ex,
		symbol:         strings.ToUpper(symbol),
		quoteAsset:     quoteAsset,
		logger:         logger,
		now:            time.Now,
		initialBalance: initial,
		wallet:         initial,
		equityCurve:    []decimal.Decimal{initial},
		nextOrderID:    1,
		takerFeeRate:   decimal.NewFromFloat(cfg.TakerFeeRate),
		slippageRate:   decimal.NewFromFloat(cfg.SlippageRate),
	}
}

// SetLeverage 只在本地记录
func (e *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage = leverage
	return nil
}

// SetMarginType 只在本地记录
func (e *PaperExchange) SetMarginType(ctx context.Context, symbol string, marginType models.MarginType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marginType = marginType
	return nil
}

// GetBalance 返回模拟钱包余额，不含未实现盈亏 (与合约账户的 walletBalance 一致)
func (e *PaperExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset != e.quoteAsset {
		return decimal.Zero, fmt.Errorf("模拟盘: %w: %s", ErrAssetNotFound, asset)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet, nil
}

// GetPrice 从真实行情取价，同时更新标记价格
func (e *PaperExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := e.Exchange.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if strings.EqualFold(symbol, e.symbol) {
		e.mu.Lock()
		e.markPrice = price
		e.updateEquity()
		e.mu.Unlock()
	}
	return price, nil
}

// PlaceMarketOrder 以最新价加滑点立即成交，并收取吃单手续费
func (e *PaperExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	const op = "模拟下单"
	if !strings.EqualFold(req.Symbol, e.symbol) {
		return nil, &models.RequestError{Op: op, Kind: models.ErrRejected, Err: fmt.Errorf("模拟盘只支持 %s", e.symbol)}
	}
	if !req.Quantity.IsPositive() {
		return nil, &models.RequestError{Op: op, Kind: models.ErrRejected, Err: errors.New("数量必须为正数")}
	}
	if req.Side != models.Buy && req.Side != models.Sell {
		return nil, &models.RequestError{Op: op, Kind: models.ErrRejected, Err: fmt.Errorf("未知方向 %q", req.Side)}
	}

	price, err := e.Exchange.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.markPrice = price
	fill := e.fill(req, price)

	e.logger.Info("[模拟盘] 订单成交",
		zap.String("side", string(fill.Side)),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("price", fill.Price.String()),
		zap.String("fee", fill.Fee.String()),
		zap.String("realizedPNL", fill.RealizedPNL.String()),
		zap.String("position", e.position.String()),
		zap.String("avgEntryPrice", e.avgEntryPrice.String()),
		zap.String("wallet", e.wallet.String()),
	)

	return &models.Order{
		Symbol:        e.symbol,
		OrderId:       fill.OrderID,
		ClientOrderId: req.ClientOrderID,
		AvgPrice:      fill.Price.String(),
		OrigQty:       fill.Quantity.String(),
		ExecutedQty:   fill.Quantity.String(),
		CumQuote:      fill.Price.Mul(fill.Quantity).String(),
		Status:        "FILLED",
		Type:          "MARKET",
		Side:          string(req.Side),
		PositionSide:  "BOTH",
		UpdateTime:    fill.Time.UnixMilli(),
	}, nil
}

// fill 更新仓位、均价和钱包。必须在持有锁的情况下调用。
func (e *PaperExchange) fill(req models.OrderRequest, price decimal.Decimal) models.Fill {
	now := e.now()
	one := decimal.NewFromInt(1)

	// 1. 含滑点的成交价
	execPrice := price.Mul(one.Add(e.slippageRate))
	signedQty := req.Quantity
	if req.Side == models.Sell {
		execPrice = price.Mul(one.Sub(e.slippageRate))
		signedQty = req.Quantity.Neg()
	}

	// 2. 手续费总是支出
	fee := execPrice.Mul(req.Quantity).Mul(e.takerFeeRate)
	e.totalFees = e.totalFees.Add(fee)

	// 3. 仓位与均价
	realized := decimal.Zero
	if e.position.IsZero() || e.position.Sign() == signedQty.Sign() {
		// 开仓或加仓
		if e.position.IsZero() {
			e.entryTime = now
		}
		absPos := e.position.Abs()
		e.avgEntryPrice = e.avgEntryPrice.Mul(absPos).Add(execPrice.Mul(req.Quantity)).Div(absPos.Add(req.Quantity))
		e.position = e.position.Add(signedQty)
	} else {
		// 减仓、平仓或反手
		closeQty := decimal.Min(req.Quantity, e.position.Abs())
		direction := decimal.NewFromInt(int64(e.position.Sign()))
		realized = execPrice.Sub(e.avgEntryPrice).Mul(closeQty).Mul(direction)

		closedSide := models.Buy
		if e.position.IsNegative() {
			closedSide = models.Sell
		}
		closeFee := fee.Mul(closeQty).Div(req.Quantity)
		e.tradeLog = append(e.tradeLog, models.CompletedTrade{
			Symbol:       e.symbol,
			Side:         closedSide,
			Quantity:     closeQty,
			EntryTime:    e.entryTime,
			ExitTime:     now,
			HoldDuration: now.Sub(e.entryTime),
			EntryPrice:   e.avgEntryPrice,
			ExitPrice:    execPrice,
			Profit:       realized.Sub(closeFee),
			Fee:          closeFee,
		})

		e.position = e.position.Add(signedQty)
		switch {
		case e.position.IsZero():
			e.avgEntryPrice = decimal.Zero
			e.entryTime = time.Time{}
		case e.position.Sign() == signedQty.Sign():
			// 反手: 剩余部分按成交价开新仓
			e.avgEntryPrice = execPrice
			e.entryTime = now
		}
	}

	e.realizedPNL = e.realizedPNL.Add(realized)
	e.wallet = e.wallet.Add(realized).Sub(fee)

	f := models.Fill{
		OrderID:       e.nextOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        e.symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         execPrice,
		Fee:           fee,
		RealizedPNL:   realized,
		Time:          now,
	}
	e.nextOrderID++
	e.fills = append(e.fills, f)
	e.updateEquity()
	return f
}

// unrealizedPNL 必须在持有锁的情况下调用
func (e *PaperExchange) unrealizedPNL() decimal.Decimal {
	if e.position.IsZero() || e.markPrice.IsZero() {
		return decimal.Zero
	}
	return e.markPrice.Sub(e.avgEntryPrice).Mul(e.position)
}

// updateEquity 记录当前权益。必须在持有锁的情况下调用。
func (e *PaperExchange) updateEquity() {
	e.equityCurve = append(e.equityCurve, e.wallet.Add(e.unrealizedPNL()))
}

// Fills 返回成交记录的副本
func (e *PaperExchange) Fills() []models.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Fill(nil), e.fills...)
}

// Summary 返回模拟账户当前状态的快照
func (e *PaperExchange) Summary() models.PaperSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	unrealized := e.unrealizedPNL()
	return models.PaperSummary{
		Symbol:         e.symbol,
		InitialBalance: e.initialBalance,
		WalletBalance:  e.wallet,
		Position:       e.position,
		AvgEntryPrice:  e.avgEntryPrice,
		MarkPrice:      e.markPrice,
		UnrealizedPNL:  unrealized,
		Equity:         e.wallet.Add(unrealized),
		RealizedPNL:    e.realizedPNL,
		TotalFees:      e.totalFees,
		Fills:          len(e.fills),
		Trades:         append([]models.CompletedTrade(nil), e.tradeLog...),
		EquityCurve:    append([]decimal.Decimal(nil), e.equityCurve...),
	}
}
