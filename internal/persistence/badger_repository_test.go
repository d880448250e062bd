package persistence

import (
	"testing"
	"time"

	"binance-flow-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemoryRepo(t *testing.T) *badgerRepository {
	t.Helper()
	repo, err := newBadgerRepository(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestLoopState_RoundTrip(t *testing.T) {
	repo := newInMemoryRepo(t)

	state, err := repo.LoadLoopState()
	require.NoError(t, err)
	assert.Nil(t, state, "空库应返回 nil")

	openTime := time.UnixMilli(1699999200000).UTC()
	saved := &models.LoopState{}
	saved.Advance(openTime, openTime.Add(time.Minute))
	saved.RecordFailure(openTime.Add(time.Hour))
	require.NoError(t, repo.SaveLoopState(saved))

	loaded, err := repo.LoadLoopState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, openTime.Equal(loaded.LastCandleOpenTime))
	assert.True(t, openTime.Add(time.Hour).Equal(loaded.PendingOpenTime))
	assert.Equal(t, 1, loaded.PendingFailures)
	assert.False(t, loaded.IsNewCandle(openTime))
	assert.True(t, loaded.IsNewCandle(openTime.Add(time.Hour)))
}

func TestLoopState_Overwrite(t *testing.T) {
	repo := newInMemoryRepo(t)
	first := time.UnixMilli(1000).UTC()
	second := time.UnixMilli(2000).UTC()

	require.NoError(t, repo.SaveLoopState(&models.LoopState{LastCandleOpenTime: first}))
	require.NoError(t, repo.SaveLoopState(&models.LoopState{LastCandleOpenTime: second}))

	loaded, err := repo.LoadLoopState()
	require.NoError(t, err)
	assert.True(t, second.Equal(loaded.LastCandleOpenTime))
}

func TestOrders(t *testing.T) {
	repo := newInMemoryRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	orders, err := repo.ListOrders()
	require.NoError(t, err)
	assert.Empty(t, orders)

	// 按 id 排序与提交顺序相反
	require.NoError(t, repo.RecordOrder(&models.OrderRecord{ClientOrderID: "fb-z", Side: models.Buy, Quantity: "0.002", SubmittedAt: base}))
	require.NoError(t, repo.RecordOrder(&models.OrderRecord{ClientOrderID: "fb-a", Side: models.Sell, Quantity: "0.001", SubmittedAt: base.Add(time.Hour)}))
	// 同一个 id 覆盖之前的记录
	require.NoError(t, repo.RecordOrder(&models.OrderRecord{ClientOrderID: "fb-z", Side: models.Buy, Quantity: "0.002", Status: "FILLED", SubmittedAt: base}))
	require.NoError(t, repo.SaveLoopState(&models.LoopState{LastCandleOpenTime: base}))

	orders, err = repo.ListOrders()
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "fb-z", orders[0].ClientOrderID)
	assert.Equal(t, "FILLED", orders[0].Status)
	assert.Equal(t, "fb-a", orders[1].ClientOrderID)
	assert.Equal(t, models.Sell, orders[1].Side)

	assert.Error(t, repo.RecordOrder(&models.OrderRecord{}))
}

func TestNewBadgerRepository_OnDisk(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	openTime := time.UnixMilli(1699999200000).UTC()
	require.NoError(t, repo.SaveLoopState(&models.LoopState{LastCandleOpenTime: openTime}))
	require.NoError(t, repo.Close())

	// 重新打开后状态仍然存在
	repo, err = NewBadgerRepository(dir)
	require.NoError(t, err)
	defer repo.Close()

	loaded, err := repo.LoadLoopState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, openTime.Equal(loaded.LastCandleOpenTime))
}
