package exchange

import (
	"binance-flow-bot-go/internal/models"
	"binance-flow-bot-go/internal/signer"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// timeSyncTTL 之后的签名请求会先重新同步服务器时间
	timeSyncTTL = 10 * time.Minute

	codeNoNeedToChangeMarginType = -4046
	codeTimestampOutsideWindow   = -1021
	codeInvalidSignature         = -1022
	codeInvalidAPIKeyFormat      = -2014
	codeRejectedAPIKey           = -2015
)

// ErrAssetNotFound 表示账户中没有该资产的余额记录
var ErrAssetNotFound = errors.New("asset not found in account")

// LiveExchange 实现了 Exchange 接口，用于与真实的币安合约交易所进行交互。
type LiveExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	timeOffset int64
	lastSync   time.Time
	now        func() time.Time
}

// NewLiveExchange 创建一个新的 LiveExchange 实例。时间同步在首次签名请求前惰性完成。
func NewLiveExchange(apiKey, secretKey, baseURL string, recvWindowMs int64, timeout time.Duration, logger *zap.Logger) *LiveExchange {
	return &LiveExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindowMs,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// SyncTime 与币安服务器同步时间，计算时间偏移。
func (e *LiveExchange) SyncTime(ctx context.Context) error {
	serverTime, err := e.GetServerTime(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	e.mu.Lock()
	e.timeOffset = serverTime - now.UnixMilli()
	e.lastSync = now
	offset := e.timeOffset
	e.mu.Unlock()

	e.logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", offset))
	return nil
}

// TimeOffset 返回当前使用的服务器时间偏移(毫秒)
func (e *LiveExchange) TimeOffset() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeOffset
}

// ensureTimeSync 在偏移过期时重新同步。失败时沿用旧偏移，不阻断请求。
func (e *LiveExchange) ensureTimeSync(ctx context.Context) {
	e.mu.Lock()
	stale := e.lastSync.IsZero() || e.now().Sub(e.lastSync) > timeSyncTTL
	e.mu.Unlock()
	if !stale {
		return
	}
	if err := e.SyncTime(ctx); err != nil {
		e.logger.Warn("同步服务器时间失败，使用本地时间偏移", zap.Error(err), zap.Int64("timeOffset (ms)", e.TimeOffset()))
	}
}

func (e *LiveExchange) invalidateTimeSync() {
	e.mu.Lock()
	e.lastSync = time.Time{}
	e.mu.Unlock()
}

// doRequest 是一个通用的请求处理函数，用于向币安API发送请求。
func (e *LiveExchange) doRequest(ctx context.Context, op, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	// 1. 准备基础 URL 和参数
	fullURL := e.baseURL + endpoint
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		// 2. 对于签名请求，添加时间戳并生成签名
		e.ensureTimeSync(ctx)
		timestamp := e.now().UnixMilli() + e.TimeOffset()
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
		if e.recvWindow > 0 {
			queryParams.Set("recvWindow", strconv.FormatInt(e.recvWindow, 10))
		}

		payloadToSign := queryParams.Encode()
		encodedParams = payloadToSign + "&signature=" + signer.Sign(e.secretKey, payloadToSign)
	} else {
		encodedParams = queryParams.Encode()
	}

	// 3. 根据请求方法创建请求
	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fullURL + "?" + encodedParams
		}
		e.logger.Debug("发送请求", zap.String("method", method), zap.String("endpoint", endpoint))
		req, err = http.NewRequestWithContext(ctx, method, finalURL, nil)
	} else {
		e.logger.Debug("发送请求", zap.String("method", method), zap.String("endpoint", endpoint))
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, &models.RequestError{Op: op, Kind: models.ErrNetwork, Err: fmt.Errorf("创建请求失败: %w", err)}
	}

	// 4. 添加API Key并执行请求
	if e.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &models.RequestError{Op: op, Kind: models.ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	// 5. 读取和处理响应
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.RequestError{Op: op, Kind: models.ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("读取响应体失败: %w", err)}
	}

	// 部分成功响应也带有 code 字段 (例如 {"code":200,"msg":"success"})，只有负数才是错误码
	var binanceError models.Error
	if json.Unmarshal(body, &binanceError) == nil && binanceError.Code < 0 {
		if binanceError.Code == codeTimestampOutsideWindow {
			e.invalidateTimeSync()
		}
		return body, &models.RequestError{Op: op, Kind: classifyAPIError(resp.StatusCode, binanceError.Code), StatusCode: resp.StatusCode, Err: &binanceError}
	}

	if resp.StatusCode != http.StatusOK {
		return body, &models.RequestError{
			Op:         op,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API请求失败, 响应: %s", string(body)),
		}
	}

	return body, nil
}

func classifyAPIError(status, code int) error {
	switch code {
	case codeInvalidSignature, codeInvalidAPIKeyFormat, codeRejectedAPIKey:
		return models.ErrAuth
	}
	return classifyStatus(status)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ErrAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return models.ErrNetwork
	default:
		return models.ErrRejected
	}
}

func malformed(op string, err error) error {
	return &models.RequestError{Op: op, Kind: models.ErrMalformed, Err: err}
}

// --- Exchange 接口实现 ---

// GetServerTime 获取服务器时间
func (e *LiveExchange) GetServerTime(ctx context.Context) (int64, error) {
	const op = "获取服务器时间"
	data, err := e.doRequest(ctx, op, http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, malformed(op, err)
	}
	if serverTime.ServerTime == 0 {
		return 0, malformed(op, errors.New("响应中缺少 serverTime"))
	}
	return serverTime.ServerTime, nil
}

// SetLeverage 设置杠杆。
func (e *LiveExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := e.doRequest(ctx, "设置杠杆", http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

// SetMarginType 设置保证金模式。
func (e *LiveExchange) SetMarginType(ctx context.Context, symbol string, marginType models.MarginType) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", string(marginType)) // "ISOLATED" or "CROSSED"
	_, err := e.doRequest(ctx, "设置保证金模式", http.MethodPost, "/fapi/v1/marginType", params, true)

	// 如果错误是币安的特定错误，并且错误码是 -4046 (No need to change margin type), 则忽略该错误
	var binanceErr *models.Error
	if err != nil && errors.As(err, &binanceErr) && binanceErr.Code == codeNoNeedToChangeMarginType {
		e.logger.Info("保证金模式无需更改，已是目标模式。", zap.String("marginType", string(marginType)))
		return nil
	}
	return err
}

// GetBalance 获取账户中特定资产的钱包余额
func (e *LiveExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	const op = "获取账户余额"
	data, err := e.doRequest(ctx, op, http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return decimal.Zero, err
	}

	var accInfo models.AccountInfo
	if err := json.Unmarshal(data, &accInfo); err != nil {
		return decimal.Zero, malformed(op, err)
	}

	for _, a := range accInfo.Assets {
		if a.Asset == asset {
			balance, err := decimal.NewFromString(a.WalletBalance)
			if err != nil {
				return decimal.Zero, malformed(op, fmt.Errorf("解析 %s 钱包余额失败: %w", asset, err))
			}
			return balance, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s: %w: %s", op, ErrAssetNotFound, asset)
}

// GetPrice 获取指定交易对的当前价格。
func (e *LiveExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const op = "获取当前价格"
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(ctx, op, http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return decimal.Zero, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return decimal.Zero, malformed(op, err)
	}
	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, malformed(op, err)
	}
	return price, nil
}

// GetLatestCandle 获取最新的一根K线 (可能尚未收盘)
func (e *LiveExchange) GetLatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error) {
	const op = "获取K线"
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", "1")
	data, err := e.doRequest(ctx, op, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed(op, err)
	}
	if len(raw) == 0 {
		return nil, malformed(op, errors.New("交易所未返回K线"))
	}

	candle, err := parseKline(raw[len(raw)-1])
	if err != nil {
		return nil, malformed(op, err)
	}
	return candle, nil
}

// PlaceMarketOrder 下市价单。
func (e *LiveExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	const op = "下单"
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	data, err := e.doRequest(ctx, op, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		e.logger.Error("下单请求失败，交易所返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, malformed(op, err)
	}
	return &order, nil
}

// parseKline 解析 /fapi/v1/klines 返回的数组格式:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...]
func parseKline(row []any) (*models.Candle, error) {
	if len(row) < 9 {
		return nil, fmt.Errorf("K线字段数量不足: %d", len(row))
	}

	openTime, err := toInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("open time: %w", err)
	}
	closeTime, err := toInt64(row[6])
	if err != nil {
		return nil, fmt.Errorf("close time: %w", err)
	}
	trades, err := toInt64(row[8])
	if err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}

	values := make([]decimal.Decimal, 0, 6)
	for _, idx := range []int{1, 2, 3, 4, 5, 7} {
		v, err := toDecimal(row[idx])
		if err != nil {
			return nil, fmt.Errorf("字段 %d: %w", idx, err)
		}
		values = append(values, v)
	}

	return &models.Candle{
		OpenTime:    time.UnixMilli(openTime),
		Open:        values[0],
		High:        values[1],
		Low:         values[2],
		Close:       values[3],
		Volume:      values[4],
		CloseTime:   time.UnixMilli(closeTime),
		QuoteVolume: values[5],
		Trades:      trades,
	}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("意外的类型 %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(n)
	case json.Number:
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, fmt.Errorf("意外的类型 %T", v)
	}
}
