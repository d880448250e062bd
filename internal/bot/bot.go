package bot

import (
	"binance-flow-bot-go/internal/exchange"
	"binance-flow-bot-go/internal/flow"
	"binance-flow-bot-go/internal/models"
	"binance-flow-bot-go/internal/persistence"
	"binance-flow-bot-go/internal/strategy"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome 是一次迭代的结果
type Outcome string

const (
	OutcomeCandleFailed Outcome = "candle_failed"
	OutcomeDuplicate    Outcome = "duplicate_candle"
	OutcomeFlowFailed   Outcome = "flow_failed"
	OutcomeFlowGaveUp   Outcome = "flow_gave_up"
	OutcomeSignalFailed Outcome = "signal_failed"
	OutcomeHold         Outcome = "hold"
	OutcomePriceFailed  Outcome = "price_failed"
	OutcomeSizingFailed Outcome = "sizing_failed"
	OutcomeZeroQuantity Outcome = "zero_quantity"
	OutcomeOrderFailed  Outcome = "order_failed"
	OutcomeOrderPlaced  Outcome = "order_placed"
)

// Stats 是运行期间的计数器，用于退出时的报告
type Stats struct {
	Ticks          int
	Evaluations    int
	Buys           int
	Sells          int
	Holds          int
	Skipped        int // 重复K线
	CandleFailures int
	FlowFailures   int
	FlowGiveUps    int
	SignalFailures int
	PriceFailures  int
	SizingSkips    int // 计算失败或数量为零
	OrderFailures  int
	StartBalance   decimal.Decimal
	LastSignal     *models.Signal
	LastCandle     time.Time
	StartedAt      time.Time
}

// Option 配置 FlowBot
type Option func(*FlowBot)

// WithMaxTicks 限制 Run 的迭代次数, 0 表示不限
func WithMaxTicks(n int) Option {
	return func(b *FlowBot) { b.maxTicks = n }
}

// FlowBot 按固定周期读取最新K线，在每根新K线上根据资金流信号下一次市价单
type FlowBot struct {
	config     *models.Config
	exchange   exchange.Exchange
	flow       flow.Source
	repo       persistence.StateRepository // 为 nil 时不持久化
	logger     *zap.Logger
	thresholds models.Thresholds
	percentage decimal.Decimal

	// 以下字段只由循环所在的协程访问
	state    models.LoopState
	balance  decimal.Decimal
	started  bool
	maxTicks int
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	stats Stats
}

// NewFlowBot 创建一个新的资金流交易机器人实例
func NewFlowBot(config *models.Config, ex exchange.Exchange, source flow.Source, repo persistence.StateRepository, logger *zap.Logger, opts ...Option) *FlowBot {
	b := &FlowBot{
		config:     config,
		exchange:   ex,
		flow:       source,
		repo:       repo,
		logger:     logger,
		thresholds: strategy.NewThresholds(config.BuyThreshold, config.SellThreshold),
		percentage: decimal.NewFromFloat(config.PositionPercentage),
		now:        time.Now,
		after:      time.After,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start 配置账户并读取启动余额。只有余额读取失败会返回错误。
func (b *FlowBot) Start(ctx context.Context) error {
	symbol := b.config.Symbol

	// 1. 时间同步 (仅真实交易所需要)
	if syncer, ok := b.exchange.(interface{ SyncTime(context.Context) error }); ok {
		if err := syncer.SyncTime(ctx); err != nil {
			b.logger.Warn("同步服务器时间失败，将在签名请求前重试", zap.Error(err))
		}
	}

	// 2. 杠杆和保证金模式, 失败不影响运行
	if err := b.exchange.SetLeverage(ctx, symbol, b.config.Leverage); err != nil {
		b.logger.Warn("设置杠杆失败", zap.String("symbol", symbol), zap.Int("leverage", b.config.Leverage), zap.Error(err))
	} else {
		b.logger.Info("杠杆设置完成", zap.String("symbol", symbol), zap.Int("leverage", b.config.Leverage))
	}
	if err := b.exchange.SetMarginType(ctx, symbol, models.MarginType(b.config.MarginType)); err != nil {
		b.logger.Warn("设置保证金模式失败", zap.String("symbol", symbol), zap.String("marginType", b.config.MarginType), zap.Error(err))
	} else {
		b.logger.Info("保证金模式设置完成", zap.String("symbol", symbol), zap.String("marginType", b.config.MarginType))
	}

	// 3. 启动余额, 之后的仓位计算都基于它
	balance, err := b.exchange.GetBalance(ctx, b.config.QuoteAsset)
	if err != nil {
		return fmt.Errorf("获取 %s 启动余额失败: %w", b.config.QuoteAsset, err)
	}
	b.balance = balance
	b.logger.Info("获取钱包余额成功", zap.String("asset", b.config.QuoteAsset), zap.String("balance", balance.String()))

	// 4. 从持久化的状态恢复幂等门
	if b.repo != nil {
		state, err := b.repo.LoadLoopState()
		switch {
		case err != nil:
			b.logger.Warn("加载循环状态失败，从空状态开始", zap.Error(err))
		case state != nil:
			b.state = *state
			b.logger.Info("已恢复循环状态", zap.Time("lastCandleOpenTime", state.LastCandleOpenTime))
		}
	}

	b.mu.Lock()
	b.stats.StartBalance = balance
	b.stats.StartedAt = b.now()
	b.mu.Unlock()

	b.started = true
	return nil
}

// Run 启动后每隔 interval_seconds 执行一次 Tick，直到 ctx 被取消或达到最大迭代次数
func (b *FlowBot) Run(ctx context.Context) error {
	if !b.started {
		if err := b.Start(ctx); err != nil {
			return err
		}
	}

	b.logger.Info("交易循环已启动",
		zap.String("symbol", b.config.Symbol),
		zap.String("timeframe", b.config.Timeframe),
		zap.Duration("interval", b.config.Interval()),
	)

	for ticks := 1; ; ticks++ {
		b.Tick(ctx)

		if b.maxTicks > 0 && ticks >= b.maxTicks {
			b.logger.Info("达到最大迭代次数，交易循环结束", zap.Int("ticks", ticks))
			return nil
		}

		select {
		case <-ctx.Done():
			b.logger.Info("交易循环已停止")
			return nil
		case <-b.after(b.config.Interval()):
		}
	}
}

// Tick 执行一次迭代。任何失败都只影响本次迭代。
func (b *FlowBot) Tick(ctx context.Context) Outcome {
	b.count(func(s *Stats) { s.Ticks++ })

	// a. 最新K线
	candle, err := b.exchange.GetLatestCandle(ctx, b.config.Symbol, b.config.Timeframe)
	if err != nil {
		b.logger.Warn("获取K线失败，跳过本次迭代", zap.Error(err))
		b.count(func(s *Stats) { s.CandleFailures++ })
		return OutcomeCandleFailed
	}

	// b. 幂等门
	if !b.state.IsNewCandle(candle.OpenTime) {
		b.logger.Debug("K线已处理，等待下一根", zap.Time("openTime", candle.OpenTime))
		b.count(func(s *Stats) { s.Skipped++ })
		return OutcomeDuplicate
	}

	log := b.logger.With(zap.Time("openTime", candle.OpenTime))
	log.Info("发现新K线", zap.String("close", candle.Close.String()))

	// c. 资金流
	metric, err := b.flow.GetFlowMetric(ctx)
	if err != nil {
		failures := b.state.RecordFailure(candle.OpenTime)
		b.count(func(s *Stats) { s.FlowFailures++ })
		if limit := b.config.FlowRetryLimit; limit > 0 && failures >= limit {
			log.Warn("资金流连续获取失败，放弃这根K线", zap.Int("failures", failures), zap.Error(err))
			b.count(func(s *Stats) { s.FlowGiveUps++ })
			b.advance(candle.OpenTime)
			return OutcomeFlowGaveUp
		}
		log.Warn("获取资金流失败，下次迭代重试同一根K线", zap.Int("failures", failures), zap.Error(err))
		b.saveState()
		return OutcomeFlowFailed
	}

	// d. 信号与下单
	b.count(func(s *Stats) {
		s.Evaluations++
		s.LastCandle = candle.OpenTime
	})
	outcome := b.evaluate(ctx, log, candle, *metric)

	// e. 无论结果如何，这根K线都已处理完毕
	b.advance(candle.OpenTime)
	return outcome
}

func (b *FlowBot) evaluate(ctx context.Context, log *zap.Logger, candle *models.Candle, metric models.FlowMetric) Outcome {
	signal, err := strategy.CalculateSignal(metric, b.thresholds)
	if err != nil {
		log.Error("计算信号失败", zap.String("inflow", metric.Inflow.String()), zap.String("outflow", metric.Outflow.String()), zap.Error(err))
		b.count(func(s *Stats) { s.SignalFailures++ })
		return OutcomeSignalFailed
	}
	b.count(func(s *Stats) { s.LastSignal = &signal })

	log.Info("信号计算完成",
		zap.String("action", string(signal.Action)),
		zap.String("strength", signal.Strength.StringFixed(4)),
		zap.String("inflow", metric.Inflow.String()),
		zap.String("outflow", metric.Outflow.String()),
	)

	side, ok := signal.Action.Side()
	if !ok {
		b.count(func(s *Stats) { s.Holds++ })
		return OutcomeHold
	}

	price, err := b.exchange.GetPrice(ctx, b.config.Symbol)
	if err != nil {
		log.Warn("获取当前价格失败，放弃本根K线的下单", zap.Error(err))
		b.count(func(s *Stats) { s.PriceFailures++ })
		return OutcomePriceFailed
	}

	quantity, err := strategy.CalculatePositionSize(b.balance, b.percentage, price)
	if err != nil {
		log.Error("计算下单数量失败", zap.String("price", price.String()), zap.Error(err))
		b.count(func(s *Stats) { s.SizingSkips++ })
		return OutcomeSizingFailed
	}
	if quantity.IsZero() {
		log.Warn("下单数量舍入后为零，跳过下单",
			zap.String("balance", b.balance.String()),
			zap.String("price", price.String()),
		)
		b.count(func(s *Stats) { s.SizingSkips++ })
		return OutcomeZeroQuantity
	}

	req := models.OrderRequest{
		Symbol:        b.config.Symbol,
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: ClientOrderID(b.config.Symbol, candle.OpenTime, side),
	}
	record := &models.OrderRecord{
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           side,
		Quantity:       quantity.String(),
		CandleOpenTime: candle.OpenTime,
		Strength:       signal.Strength.String(),
		SubmittedAt:    b.now(),
	}

	order, err := b.exchange.PlaceMarketOrder(ctx, req)
	if err != nil {
		log.Error("下单失败", zap.String("side", string(side)), zap.String("quantity", quantity.String()), zap.Error(err))
		b.count(func(s *Stats) { s.OrderFailures++ })
		record.Status = "FAILED"
		b.recordOrder(record)
		return OutcomeOrderFailed
	}

	log.Info("市价单已提交",
		zap.String("side", string(side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.Int64("orderId", order.OrderId),
		zap.String("clientOrderId", req.ClientOrderID),
		zap.String("status", order.Status),
	)
	b.count(func(s *Stats) {
		if side == models.Buy {
			s.Buys++
		} else {
			s.Sells++
		}
	})
	record.ExchangeID = order.OrderId
	record.Status = order.Status
	b.recordOrder(record)
	return OutcomeOrderPlaced
}

func (b *FlowBot) advance(openTime time.Time) {
	b.state.Advance(openTime, b.now())
	b.saveState()
}

func (b *FlowBot) saveState() {
	if b.repo == nil {
		return
	}
	if err := b.repo.SaveLoopState(&b.state); err != nil {
		b.logger.Warn("保存循环状态失败", zap.Error(err))
	}
}

func (b *FlowBot) recordOrder(record *models.OrderRecord) {
	if b.repo == nil {
		return
	}
	if err := b.repo.RecordOrder(record); err != nil {
		b.logger.Warn("记录订单失败", zap.String("clientOrderId", record.ClientOrderID), zap.Error(err))
	}
}

func (b *FlowBot) count(f func(*Stats)) {
	b.mu.Lock()
	f(&b.stats)
	b.mu.Unlock()
}

// Stats 返回计数器的快照
func (b *FlowBot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	if s.LastSignal != nil {
		sig := *s.LastSignal
		s.LastSignal = &sig
	}
	return s
}

// State 返回当前的循环状态
func (b *FlowBot) State() models.LoopState {
	return b.state
}
