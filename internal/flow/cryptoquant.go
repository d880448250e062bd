package flow

import (
	"binance-flow-bot-go/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source 提供用于计算信号的资金流数据
type Source interface {
	GetFlowMetric(ctx context.Context) (*models.FlowMetric, error)
}

// Client 从 CryptoQuant 获取交易所资金流入/流出
type Client struct {
	apiKey     string
	baseURL    string
	asset      string
	exchange   string
	window     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建资金流客户端
func NewClient(apiKey, baseURL, asset, exchange, window string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		asset:      strings.ToLower(asset),
		exchange:   exchange,
		window:     window,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetFlowMetric 分别请求 inflow 和 outflow 接口，取各自最新的一条数据
func (c *Client) GetFlowMetric(ctx context.Context) (*models.FlowMetric, error) {
	inflow, inDate, err := c.latest(ctx, "inflow", "inflow_total")
	if err != nil {
		return nil, err
	}
	outflow, outDate, err := c.latest(ctx, "outflow", "outflow_total")
	if err != nil {
		return nil, err
	}
	if inDate != outDate {
		c.logger.Warn("流入与流出数据日期不一致", zap.String("inflowDate", inDate), zap.String("outflowDate", outDate))
	}

	return &models.FlowMetric{Inflow: inflow, Outflow: outflow, Date: inDate}, nil
}

type flowResponse struct {
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Result struct {
		Window string           `json:"window"`
		Data   []map[string]any `json:"data"`
	} `json:"result"`
}

func (c *Client) latest(ctx context.Context, metric, field string) (decimal.Decimal, string, error) {
	op := "获取资金" + metric
	params := url.Values{}
	params.Set("exchange", c.exchange)
	params.Set("window", c.window)
	params.Set("limit", "1")
	endpoint := fmt.Sprintf("%s/%s/exchange-flows/%s?%s", c.baseURL, c.asset, metric, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("发送请求", zap.String("endpoint", endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, "", &models.RequestError{
			Op:         op,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API请求失败, 响应: %s", string(body)),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var parsed flowResponse
	if err := dec.Decode(&parsed); err != nil {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrMalformed, StatusCode: resp.StatusCode, Err: err}
	}
	if len(parsed.Result.Data) == 0 {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrMalformed, StatusCode: resp.StatusCode, Err: errors.New("响应中没有数据")}
	}

	row := parsed.Result.Data[0]
	value, err := toDecimal(row[field])
	if err != nil {
		return decimal.Zero, "", &models.RequestError{Op: op, Kind: models.ErrMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("字段 %s: %w", field, err)}
	}
	date, _ := row["date"].(string)
	return value, date, nil
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

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case nil:
		return decimal.Zero, errors.New("缺少字段")
	default:
		return decimal.Zero, fmt.Errorf("意外的类型 %T", v)
	}
}
