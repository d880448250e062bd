package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet     bool   `mapstructure:"is_testnet" json:"is_testnet"` // 是否使用测试网
	LiveAPIURL    string `mapstructure:"live_api_url" json:"live_api_url"`
	LiveWSURL     string `mapstructure:"live_ws_url" json:"live_ws_url"`
	TestnetAPIURL string `mapstructure:"testnet_api_url" json:"testnet_api_url"`
	TestnetWSURL  string `mapstructure:"testnet_ws_url" json:"testnet_ws_url"`

	Symbol             string  `mapstructure:"symbol" json:"symbol"`                           // 交易对，如 "BTCUSDT"
	QuoteAsset         string  `mapstructure:"quote_asset" json:"quote_asset"`                 // 计价资产，用于读取钱包余额
	PositionPercentage float64 `mapstructure:"position_percentage" json:"position_percentage"` // 每次下单占钱包余额的百分比 (0-100)
	BuyThreshold       float64 `mapstructure:"buy_threshold" json:"buy_threshold"`             // 信号强度高于此值时买入
	SellThreshold      float64 `mapstructure:"sell_threshold" json:"sell_threshold"`           // 信号强度低于此值时卖出
	Leverage           int     `mapstructure:"leverage" json:"leverage"`                       // 杠杆倍数
	Timeframe          string  `mapstructure:"timeframe" json:"timeframe"`                     // K线周期, e.g. "1h"
	IntervalSeconds    int     `mapstructure:"interval_seconds" json:"interval_seconds"`       // 轮询间隔(秒)
	MarginType         string  `mapstructure:"margin_type" json:"margin_type"`                 // 保证金模式: CROSSED 或 ISOLATED

	RecvWindowMs          int64  `mapstructure:"recv_window_ms" json:"recv_window_ms"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	CandleSource          string `mapstructure:"candle_source" json:"candle_source"` // rest 或 stream

	FlowAPIURL     string `mapstructure:"flow_api_url" json:"flow_api_url"`
	FlowAsset      string `mapstructure:"flow_asset" json:"flow_asset"`
	FlowExchange   string `mapstructure:"flow_exchange" json:"flow_exchange"`
	FlowWindow     string `mapstructure:"flow_window" json:"flow_window"`
	FlowRetryLimit int    `mapstructure:"flow_retry_limit" json:"flow_retry_limit"` // 同一根K线上资金流获取连续失败多少次后放弃, 0 表示无限重试

	DryRun      bool        `mapstructure:"dry_run" json:"dry_run"` // 模拟盘: 行情走真实接口, 成交在本地撮合
	Paper       PaperConfig `mapstructure:"paper" json:"paper"`
	StateDBPath string      `mapstructure:"state_db_path" json:"state_db_path"` // badger 目录, 为空则不持久化
	LogConfig   LogConfig   `mapstructure:"log" json:"log"`

	Credentials Credentials `mapstructure:"-" json:"-"`

	BaseURL   string `mapstructure:"-" json:"-"` // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `mapstructure:"-" json:"-"` // WebSocket基础地址 (将由程序动态设置)
}

// Credentials 只从环境变量中读取，不允许写入配置文件
type Credentials struct {
	BinanceAPIKey    string
	BinanceSecretKey string
	FlowAPIKey       string
}

// PaperConfig 模拟盘撮合参数
type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance" json:"initial_balance"`
	TakerFeeRate   float64 `mapstructure:"taker_fee_rate" json:"taker_fee_rate"`
	SlippageRate   float64 `mapstructure:"slippage_rate" json:"slippage_rate"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}

// Interval 返回轮询间隔
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RequestTimeout 返回单次HTTP请求的超时时间
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// MarginType 保证金模式
type MarginType string

const (
	Crossed  MarginType = "CROSSED"
	Isolated MarginType = "ISOLATED"
)

// Action 是信号计算器给出的动作
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Side 把动作映射为下单方向。hold 没有方向。
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return Buy, true
	case ActionSell:
		return Sell, true
	default:
		return "", false
	}
}

// Signal 由资金流计算得出，不做持久化
type Signal struct {
	Action   Action
	Strength decimal.Decimal
}

// Thresholds 买卖阈值, Buy 必须大于 Sell
type Thresholds struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// FlowMetric 交易所资金流入/流出
type FlowMetric struct {
	Inflow  decimal.Decimal `json:"exchange_inflow"`
	Outflow decimal.Decimal `json:"exchange_outflow"`
	Date    string          `json:"date,omitempty"`
}

// Candle 代表一根K线。OpenTime 是它的唯一标识。
type Candle struct {
	OpenTime    time.Time       `json:"open_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	CloseTime   time.Time       `json:"close_time"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
	Closed      bool            `json:"closed"`
}

// OrderRequest 市价单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	ClientOrderID string
}

// AccountInfo 定义了币安账户信息
type AccountInfo struct {
	TotalWalletBalance string `json:"totalWalletBalance"`
	AvailableBalance   string `json:"availableBalance"`
	Assets             []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		UnrealizedProfit string `json:"unrealizedProfit"`
		MarginBalance    string `json:"marginBalance"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
}

// Order 定义了订单信息
type Order struct {
	Symbol        string `json:"symbol"`
	OrderId       int64  `json:"orderId"`
	ClientOrderId string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	UpdateTime    int64  `json:"updateTime"`
}

// KlineEvent 是 <symbol>@kline_<interval> 推送的消息
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime    int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Symbol      string `json:"s"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		Close       string `json:"c"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Volume      string `json:"v"`
		Trades      int64  `json:"n"`
		IsClosed    bool   `json:"x"`
		QuoteVolume string `json:"q"`
	} `json:"k"`
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 BinanceError 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
