package exchange

import (
	"binance-flow-bot-go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait

	defaultReconnectDelay = 5 * time.Second
	// 超过这个时间没有收到推送，就认为流上的K线不可信，改走REST
	defaultStaleAfter = 2 * time.Minute
)

// KlineStream 通过 <symbol>@kline_<interval> 推送维护最新K线。
// 其余方法直接委托给内嵌的 Exchange；流不可用时 GetLatestCandle 也回退到 REST。
type KlineStream struct {
	Exchange

	wsURL    string
	symbol   string
	interval string
	logger   *zap.Logger

	reconnectDelay time.Duration
	staleAfter     time.Duration
	now            func() time.Time

	mu         sync.RWMutex
	latest     *models.Candle
	lastUpdate time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewKlineStream 创建K线推送源，需要调用 Start 才会连接
func NewKlineStream(ex Exchange, wsBaseURL, symbol, interval string, logger *zap.Logger) *KlineStream {
	return &KlineStream{
		Exchange:       ex,
		wsURL:          fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(wsBaseURL, "/"), strings.ToLower(symbol), interval),
		symbol:         strings.ToUpper(symbol),
		interval:       interval,
		logger:         logger,
		reconnectDelay: defaultReconnectDelay,
		staleAfter:     defaultStaleAfter,
		now:            time.Now,
	}
}

// Start 在后台维持WebSocket连接，ctx 取消或调用 Close 后退出
func (s *KlineStream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.webSocketLoop(ctx)
}

// Close 停止推送并等待后台协程退出
func (s *KlineStream) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// GetLatestCandle 优先返回推送中的最新K线
func (s *KlineStream) GetLatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error) {
	if strings.EqualFold(symbol, s.symbol) && interval == s.interval {
		s.mu.RLock()
		latest, lastUpdate := s.latest, s.lastUpdate
		s.mu.RUnlock()
		if latest != nil && s.now().Sub(lastUpdate) <= s.staleAfter {
			c := *latest
			return &c, nil
		}
	}
	return s.Exchange.GetLatestCandle(ctx, symbol, interval)
}

// webSocketLoop 负责维持WebSocket的连接和重连
func (s *KlineStream) webSocketLoop(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			s.logger.Info("K线推送循环已停止")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			s.logger.Warn("K线WebSocket连接失败，稍后重试", zap.String("url", s.wsURL), zap.Error(err), zap.Duration("delay", s.reconnectDelay))
			s.sleep(ctx)
			continue
		}

		s.logger.Info("K线WebSocket连接成功", zap.String("url", s.wsURL))
		if err := s.handleMessages(ctx, conn); err != nil {
			s.logger.Warn("K线WebSocket处理时发生错误", zap.Error(err))
		}
		conn.Close()
		if ctx.Err() == nil {
			s.logger.Info("K线WebSocket连接已断开，准备重连...")
			s.sleep(ctx)
		}
	}
}

func (s *KlineStream) sleep(ctx context.Context) {
	t := time.NewTimer(s.reconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handleMessages 处理单个连接上的消息并维持心跳，连接断开时返回
func (s *KlineStream) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		pingTicker := time.NewTicker(pingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Warn("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 优雅关闭, 同时让阻塞中的 ReadMessage 返回
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}

		var event models.KlineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Warn("解析K线推送失败", zap.Error(err))
			continue
		}
		if event.EventType != "kline" {
			continue
		}

		candle, err := candleFromEvent(&event)
		if err != nil {
			s.logger.Warn("K线推送字段无效", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.latest = candle
		s.lastUpdate = s.now()
		s.mu.Unlock()
	}
}

func candleFromEvent(event *models.KlineEvent) (*models.Candle, error) {
	k := event.Kline
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteVolume}
	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &models.Candle{
		OpenTime:    time.UnixMilli(k.OpenTime),
		Open:        values[0],
		High:        values[1],
		Low:         values[2],
		Close:       values[3],
		Volume:      values[4],
		CloseTime:   time.UnixMilli(k.CloseTime),
		QuoteVolume: values[5],
		Trades:      k.Trades,
		Closed:      k.IsClosed,
	}, nil
}
