package bot

import (
	"crypto/sha256"
	"fmt"
	"time"

	"binance-flow-bot-go/internal/models"

	"github.com/jxskiss/base62"
)

const clientOrderIDPrefix = "fb-"

// ClientOrderID 为某根K线上某个方向的决策生成确定性的 newClientOrderId。
// 同一决策重放时得到相同的 id，交易所会拒绝重复提交。
func ClientOrderID(symbol string, openTime time.Time, side models.Side) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", symbol, openTime.UnixMilli(), side)))
	return clientOrderIDPrefix + base62.EncodeToString(sum[:12])
}
