package models

import "time"

// LoopState 是主循环在两次迭代之间唯一保留的状态
type LoopState struct {
	LastCandleOpenTime time.Time `json:"last_candle_open_time"` // 零值表示还没有处理过任何K线
	PendingOpenTime    time.Time `json:"pending_open_time"`     // 资金流获取失败、等待重试的K线
	PendingFailures    int       `json:"pending_failures"`      // PendingOpenTime 上连续失败的次数
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsNewCandle 判断给定开盘时间是否属于一根尚未处理的K线
func (s *LoopState) IsNewCandle(openTime time.Time) bool {
	return s.LastCandleOpenTime.IsZero() || openTime.After(s.LastCandleOpenTime)
}

// Advance 将K线标记为已处理，并清除该K线上的失败计数
func (s *LoopState) Advance(openTime time.Time, now time.Time) {
	s.LastCandleOpenTime = openTime
	s.PendingOpenTime = time.Time{}
	s.PendingFailures = 0
	s.UpdatedAt = now
}

// RecordFailure 记录一次资金流获取失败，返回该K线上的连续失败次数
func (s *LoopState) RecordFailure(openTime time.Time) int {
	if !s.PendingOpenTime.Equal(openTime) {
		s.PendingOpenTime = openTime
		s.PendingFailures = 0
	}
	s.PendingFailures++
	return s.PendingFailures
}

// OrderRecord 记录一次已提交的订单，用于审计
type OrderRecord struct {
	ClientOrderID  string    `json:"client_order_id"`
	ExchangeID     int64     `json:"exchange_order_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       string    `json:"quantity"`
	Status         string    `json:"status"`
	CandleOpenTime time.Time `json:"candle_open_time"`
	Strength       string    `json:"strength"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
