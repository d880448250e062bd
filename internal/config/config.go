package config

import (
	"binance-flow-bot-go/internal/models"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// 币安合约支持的K线周期
var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

const maxLeverage = 125

func setDefaults(v *viper.Viper) {
	v.SetDefault("is_testnet", true)
	v.SetDefault("live_api_url", "https://fapi.binance.com")
	v.SetDefault("live_ws_url", "wss://fstream.binance.com")
	v.SetDefault("testnet_api_url", "https://testnet.binancefuture.com")
	v.SetDefault("testnet_ws_url", "wss://stream.binancefuture.com")

	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("quote_asset", "USDT")
	v.SetDefault("position_percentage", 10.0)
	v.SetDefault("buy_threshold", 0.6)
	v.SetDefault("sell_threshold", 0.4)
	v.SetDefault("leverage", 100)
	v.SetDefault("timeframe", "1h")
	v.SetDefault("interval_seconds", 60)
	v.SetDefault("margin_type", string(models.Crossed))

	v.SetDefault("recv_window_ms", 5000)
	v.SetDefault("request_timeout_seconds", 10)
	v.SetDefault("candle_source", "rest")

	v.SetDefault("flow_api_url", "https://api.cryptoquant.com/v1")
	v.SetDefault("flow_asset", "btc")
	v.SetDefault("flow_exchange", "binance")
	v.SetDefault("flow_window", "day")
	v.SetDefault("flow_retry_limit", 0)

	v.SetDefault("dry_run", false)
	v.SetDefault("paper.initial_balance", 10000.0)
	v.SetDefault("paper.taker_fee_rate", 0.0004)
	v.SetDefault("paper.slippage_rate", 0.0)
	v.SetDefault("state_db_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
}

// LoadConfig 读取可选的JSON配置文件，再用环境变量覆盖，最后补齐默认值。
// path 为空或文件不存在时只使用环境变量和默认值。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("无法访问配置文件 %s: %w", path, err)
		}
	}

	// 嵌套键 log.level 对应环境变量 LOG_LEVEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	cfg.MarginType = strings.ToUpper(cfg.MarginType)
	cfg.Credentials = models.Credentials{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),
		FlowAPIKey:       os.Getenv("CRYPTOQUANT_API_KEY"),
	}

	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
	}

	return cfg, nil
}

// Validate 检查配置的取值范围，返回所有问题的合并错误
func Validate(cfg *models.Config) error {
	var errs []error

	if cfg.Credentials.BinanceAPIKey == "" || cfg.Credentials.BinanceSecretKey == "" {
		errs = append(errs, errors.New("BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置"))
	}
	if cfg.Credentials.FlowAPIKey == "" {
		errs = append(errs, errors.New("CRYPTOQUANT_API_KEY 环境变量必须被设置"))
	}
	if cfg.Symbol == "" {
		errs = append(errs, errors.New("symbol 不能为空"))
	}
	if cfg.QuoteAsset == "" {
		errs = append(errs, errors.New("quote_asset 不能为空"))
	}
	if cfg.PositionPercentage < 0 || cfg.PositionPercentage > 100 {
		errs = append(errs, fmt.Errorf("position_percentage 必须在 [0, 100] 内, 当前为 %v", cfg.PositionPercentage))
	}
	if cfg.SellThreshold < 0 || cfg.BuyThreshold > 1 || cfg.SellThreshold >= cfg.BuyThreshold {
		errs = append(errs, fmt.Errorf("阈值必须满足 0 <= sell_threshold < buy_threshold <= 1, 当前为 sell=%v buy=%v", cfg.SellThreshold, cfg.BuyThreshold))
	}
	if cfg.Leverage < 1 || cfg.Leverage > maxLeverage {
		errs = append(errs, fmt.Errorf("leverage 必须在 [1, %d] 内, 当前为 %d", maxLeverage, cfg.Leverage))
	}
	if !validTimeframes[cfg.Timeframe] {
		errs = append(errs, fmt.Errorf("不支持的K线周期: %q", cfg.Timeframe))
	}
	if cfg.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("interval_seconds 必须为正数, 当前为 %d", cfg.IntervalSeconds))
	}
	if cfg.MarginType != string(models.Crossed) && cfg.MarginType != string(models.Isolated) {
		errs = append(errs, fmt.Errorf("margin_type 必须是 CROSSED 或 ISOLATED, 当前为 %q", cfg.MarginType))
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds 必须为正数, 当前为 %d", cfg.RequestTimeoutSeconds))
	}
	if cfg.RecvWindowMs <= 0 || cfg.RecvWindowMs > 60000 {
		errs = append(errs, fmt.Errorf("recv_window_ms 必须在 (0, 60000] 内, 当前为 %d", cfg.RecvWindowMs))
	}
	if cfg.CandleSource != "rest" && cfg.CandleSource != "stream" {
		errs = append(errs, fmt.Errorf("candle_source 必须是 rest 或 stream, 当前为 %q", cfg.CandleSource))
	}
	if cfg.FlowRetryLimit < 0 {
		errs = append(errs, fmt.Errorf("flow_retry_limit 不能为负数, 当前为 %d", cfg.FlowRetryLimit))
	}
	if cfg.DryRun && cfg.Paper.InitialBalance <= 0 {
		errs = append(errs, errors.New("dry_run 模式下 paper.initial_balance 必须为正数"))
	}

	return errors.Join(errs...)
}
