package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

// 合约K线接口单次请求最多1500条
const pageLimit = 1500

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader 用于从币安合约下载历史K线数据
type KlineDownloader struct {
	client *futures.Client
	logger *zap.Logger
	pause  time.Duration
}

// NewKlineDownloader 创建一个新的下载器实例。baseURL 为空时使用币安合约主网地址。
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := futures.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{
		client: client,
		logger: logger,
		pause:  200 * time.Millisecond, // 避免过于频繁的请求
	}
}

// DownloadKlines 下载 [startTime, endTime) 内的K线并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}
	if !startTime.Before(endTime) {
		return fmt.Errorf("开始时间 %s 必须早于结束时间 %s", startTime.Format(time.RFC3339), endTime.Format(time.RFC3339))
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.String("start", startTime.Format("2006-01-02")),
		zap.String("end", endTime.Format("2006-01-02")),
	)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写临时文件，成功后再改名，避免中断的下载被当作缓存
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("无法创建临时文件: %w", err)
	}
	defer os.Remove(tmp.Name())

	rows, err := d.writeKlines(ctx, tmp, symbol, interval, startTime, endTime)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("无法保存文件 %s: %w", filePath, err)
	}

	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("rows", rows))
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, file *os.File, symbol, interval string, startTime, endTime time.Time) (int, error) {
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	endMs := endTime.UnixMilli() - 1
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(endMs).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载数据", zap.String("until", t.Format("2006-01-02 15:04:05")))

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-time.After(d.pause):
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return rows, fmt.Errorf("写入CSV失败: %w", err)
	}
	return rows, nil
}

// DefaultFilePath 返回下载文件的默认路径
func DefaultFilePath(symbol, interval string, startTime, endTime time.Time) string {
	return filepath.Join("data", fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, startTime.Format("2006-01-02"), endTime.Format("2006-01-02")))
}
