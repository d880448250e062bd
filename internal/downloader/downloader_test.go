package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func kline(openMs int64) string {
	return fmt.Sprintf(`[%d,"100.0","101.0","99.0","100.5","12.5",%d,"1256.25",42,"6.0","603.0","0"]`, openMs, openMs+59_999)
}

// newKlineServer 每页最多返回两根1分钟K线，直到 endTime
func newKlineServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		assert.Equal(t, "1500", q.Get("limit"))

		from, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		to, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		var rows []string
		for open := from; open <= to && len(rows) < 2; open += 60_000 {
			rows = append(rows, kline(open))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestDownloader(baseURL string) *KlineDownloader {
	d := NewKlineDownloader(baseURL, zap.NewNop())
	d.pause = 0
	return d
}

func TestDownloadKlines(t *testing.T) {
	srv, requests := newKlineServer(t)
	path := filepath.Join(t.TempDir(), "nested", "klines.csv")

	d := newTestDownloader(srv.URL)
	err := d.DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(5*time.Minute))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 6, "表头加5根K线")
	assert.Equal(t, header, records[0])
	assert.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), records[1][0])
	assert.Equal(t, strconv.FormatInt(start.Add(4*time.Minute).UnixMilli(), 10), records[5][0])
	assert.Equal(t, "100.5", records[1][4])
	assert.Equal(t, "42", records[1][8])
	// 3 页数据
	assert.Equal(t, int32(3), requests.Load())

	// 第二次调用直接使用缓存
	require.NoError(t, d.DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(5*time.Minute)))
	assert.Equal(t, int32(3), requests.Load())
}

func TestDownloadKlines_FailureLeavesNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "klines.csv")
	err := newTestDownloader(srv.URL).DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(time.Hour))
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "临时文件应被清理")
}

func TestDownloadKlines_InvalidRange(t *testing.T) {
	err := newTestDownloader("http://127.0.0.1:1").DownloadKlines(context.Background(), "BTCUSDT", "1m", filepath.Join(t.TempDir(), "k.csv"), start, start)
	assert.Error(t, err)
}

func TestDefaultFilePath(t *testing.T) {
	got := DefaultFilePath("BTCUSDT", "1h", start, start.AddDate(0, 1, 0))
	assert.Equal(t, filepath.Join("data", "BTCUSDT-1h-2024-01-01-2024-02-01.csv"), got)
}
