package config

import (
	"os"
	"path/filepath"
	"testing"

	"binance-flow-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")
	t.Setenv("CRYPTOQUANT_API_KEY", "flow-key")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setCredentials(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, 10.0, cfg.PositionPercentage)
	assert.Equal(t, 0.6, cfg.BuyThreshold)
	assert.Equal(t, 0.4, cfg.SellThreshold)
	assert.Equal(t, 100, cfg.Leverage)
	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, 60, cfg.IntervalSeconds)
	assert.Equal(t, "CROSSED", cfg.MarginType)
	assert.Equal(t, 0, cfg.FlowRetryLimit)
	assert.Equal(t, "https://testnet.binancefuture.com", cfg.BaseURL)
	assert.Equal(t, "wss://stream.binancefuture.com", cfg.WSBaseURL)
	assert.Equal(t, "key", cfg.Credentials.BinanceAPIKey)
	assert.Equal(t, "flow-key", cfg.Credentials.FlowAPIKey)
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	setCredentials(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"is_testnet": false,
		"symbol": "ethusdt",
		"leverage": 20,
		"margin_type": "isolated",
		"log": {"level": "debug"}
	}`), 0644))

	t.Setenv("BUY_THRESHOLD", "0.7")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 20, cfg.Leverage)
	assert.Equal(t, "ISOLATED", cfg.MarginType)
	assert.Equal(t, 0.7, cfg.BuyThreshold)
	assert.Equal(t, "warn", cfg.LogConfig.Level)
	assert.Equal(t, "https://fapi.binance.com", cfg.BaseURL)
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfig_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func validConfig() *models.Config {
	return &models.Config{
		Symbol:                "BTCUSDT",
		QuoteAsset:            "USDT",
		PositionPercentage:    10,
		BuyThreshold:          0.6,
		SellThreshold:         0.4,
		Leverage:              10,
		Timeframe:             "1h",
		IntervalSeconds:       60,
		MarginType:            "CROSSED",
		RequestTimeoutSeconds: 10,
		RecvWindowMs:          5000,
		CandleSource:          "rest",
		Credentials: models.Credentials{
			BinanceAPIKey:    "k",
			BinanceSecretKey: "s",
			FlowAPIKey:       "f",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.Config)
	}{
		{"missing binance credentials", func(c *models.Config) { c.Credentials.BinanceSecretKey = "" }},
		{"missing flow credentials", func(c *models.Config) { c.Credentials.FlowAPIKey = "" }},
		{"percentage above 100", func(c *models.Config) { c.PositionPercentage = 101 }},
		{"negative percentage", func(c *models.Config) { c.PositionPercentage = -1 }},
		{"thresholds inverted", func(c *models.Config) { c.BuyThreshold, c.SellThreshold = 0.4, 0.6 }},
		{"thresholds equal", func(c *models.Config) { c.BuyThreshold, c.SellThreshold = 0.5, 0.5 }},
		{"buy threshold above one", func(c *models.Config) { c.BuyThreshold = 1.5 }},
		{"zero leverage", func(c *models.Config) { c.Leverage = 0 }},
		{"leverage above exchange max", func(c *models.Config) { c.Leverage = 200 }},
		{"unknown timeframe", func(c *models.Config) { c.Timeframe = "7m" }},
		{"zero interval", func(c *models.Config) { c.IntervalSeconds = 0 }},
		{"unknown margin type", func(c *models.Config) { c.MarginType = "PORTFOLIO" }},
		{"unknown candle source", func(c *models.Config) { c.CandleSource = "grpc" }},
		{"negative retry limit", func(c *models.Config) { c.FlowRetryLimit = -1 }},
		{"paper without balance", func(c *models.Config) { c.DryRun = true }},
	}

	require.NoError(t, Validate(validConfig()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
