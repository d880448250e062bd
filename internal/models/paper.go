package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill 模拟盘的一次成交
type Fill struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal // 含滑点的成交价
	Fee           decimal.Decimal
	RealizedPNL   decimal.Decimal
	Time          time.Time
}

// CompletedTrade 记录一笔减仓或平仓交易
type CompletedTrade struct {
	Symbol       string
	Side         Side // 被平掉的仓位方向: BUY 表示平多
	Quantity     decimal.Decimal
	EntryTime    time.Time
	ExitTime     time.Time
	HoldDuration time.Duration
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Profit       decimal.Decimal // 扣除平仓手续费后的盈亏
	Fee          decimal.Decimal
}

// PaperSummary 模拟账户的快照
type PaperSummary struct {
	Symbol         string
	InitialBalance decimal.Decimal
	WalletBalance  decimal.Decimal // 初始资金 + 已实现盈亏 - 手续费
	Position       decimal.Decimal // 正数为多仓，负数为空仓
	AvgEntryPrice  decimal.Decimal
	MarkPrice      decimal.Decimal
	UnrealizedPNL  decimal.Decimal
	Equity         decimal.Decimal
	RealizedPNL    decimal.Decimal
	TotalFees      decimal.Decimal
	Fills          int
	Trades         []CompletedTrade
	EquityCurve    []decimal.Decimal
}
