package main

import (
	"binance-flow-bot-go/internal/bot"
	"binance-flow-bot-go/internal/config"
	"binance-flow-bot-go/internal/downloader"
	"binance-flow-bot-go/internal/exchange"
	"binance-flow-bot-go/internal/flow"
	"binance-flow-bot-go/internal/logger"
	"binance-flow-bot-go/internal/models"
	"binance-flow-bot-go/internal/persistence"
	"binance-flow-bot-go/internal/reporter"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or download")
	symbol := flag.String("symbol", "", "symbol to download (defaults to the configured symbol)")
	interval := flag.String("interval", "", "kline interval to download (defaults to the configured timeframe)")
	startDate := flag.String("start", "", "start date for download (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for download (YYYY-MM-DD)")
	outPath := flag.String("out", "", "output csv path for download")
	flag.Parse()

	// 在加载.env或配置之前先用默认配置初始化logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用配置重新初始化日志, 每次运行带上唯一的 run_id
	logger.InitLogger(cfg.LogConfig, zap.String("run_id", uuid.NewString()))
	defer logger.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "live":
		err = runLiveMode(ctx, cfg)
	case "download":
		err = runDownloadMode(ctx, cfg, *symbol, *interval, *startDate, *endDate, *outPath)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 'live' 或 'download'。", *mode)
	}

	if err != nil {
		logger.L().Error("程序异常退出", zap.Error(err))
		_ = logger.L().Sync()
		stop()
		os.Exit(1)
	}
}

// runLiveMode 运行资金流交易循环，直到收到退出信号
func runLiveMode(ctx context.Context, cfg *models.Config) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	log := logger.L()
	if cfg.IsTestnet {
		log.Info("正在使用币安测试网...", zap.String("baseURL", cfg.BaseURL))
	} else {
		log.Info("正在使用币安生产网...", zap.String("baseURL", cfg.BaseURL))
	}

	// 1. 交易所: REST, 可选K线推送, 可选模拟盘
	var ex exchange.Exchange = exchange.NewLiveExchange(
		cfg.Credentials.BinanceAPIKey,
		cfg.Credentials.BinanceSecretKey,
		cfg.BaseURL,
		cfg.RecvWindowMs,
		cfg.RequestTimeout(),
		log.Named("exchange"),
	)
	if cfg.CandleSource == "stream" {
		stream := exchange.NewKlineStream(ex, cfg.WSBaseURL, cfg.Symbol, cfg.Timeframe, log.Named("stream"))
		stream.Start(ctx)
		defer stream.Close()
		ex = stream
	}
	var paper *exchange.PaperExchange
	if cfg.DryRun {
		paper = exchange.NewPaperExchange(ex, cfg.Paper, cfg.Symbol, cfg.QuoteAsset, log.Named("paper"))
		ex = paper
		log.Warn("模拟盘模式: 订单只在本地撮合，不会发送到交易所")
	}

	// 2. 资金流数据源
	flowClient := flow.NewClient(
		cfg.Credentials.FlowAPIKey,
		cfg.FlowAPIURL,
		cfg.FlowAsset,
		cfg.FlowExchange,
		cfg.FlowWindow,
		cfg.RequestTimeout(),
		log.Named("flow"),
	)

	// 3. 可选的状态日志
	var repo persistence.StateRepository
	if cfg.StateDBPath != "" {
		r, err := persistence.NewBadgerRepository(cfg.StateDBPath)
		if err != nil {
			return fmt.Errorf("打开状态数据库失败: %w", err)
		}
		defer r.Close()
		repo = r
		log.Info("已启用状态持久化", zap.String("path", cfg.StateDBPath))
	}

	// 4. 运行
	flowBot := bot.NewFlowBot(cfg, ex, flowClient, repo, log.Named("bot"))
	runErr := flowBot.Run(ctx)

	var summary *models.PaperSummary
	if paper != nil {
		s := paper.Summary()
		summary = &s
	}
	reporter.Render(os.Stdout, flowBot.Stats(), summary)

	if runErr != nil {
		return runErr
	}
	log.Info("机器人已成功停止。")
	return nil
}

// runDownloadMode 下载历史K线到CSV
func runDownloadMode(ctx context.Context, cfg *models.Config, symbol, interval, startDate, endDate, outPath string) error {
	if symbol == "" {
		symbol = cfg.Symbol
	}
	if interval == "" {
		interval = cfg.Timeframe
	}
	symbol = strings.ToUpper(symbol)

	if startDate == "" || endDate == "" {
		return fmt.Errorf("下载模式需要通过 -start 和 -end 指定日期范围")
	}
	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	if outPath == "" {
		outPath = downloader.DefaultFilePath(symbol, interval, startTime, endTime)
	}

	d := downloader.NewKlineDownloader(cfg.BaseURL, logger.L().Named("downloader"))
	if err := d.DownloadKlines(ctx, symbol, interval, outPath, startTime, endTime); err != nil {
		return fmt.Errorf("下载数据失败: %w", err)
	}
	return nil
}
