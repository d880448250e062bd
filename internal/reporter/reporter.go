package reporter

import (
	"binance-flow-bot-go/internal/bot"
	"binance-flow-bot-go/internal/models"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// Metrics 存储根据模拟盘成交计算出的绩效指标
type Metrics struct {
	InitialBalance   decimal.Decimal
	FinalEquity      decimal.Decimal
	TotalProfit      decimal.Decimal
	ProfitPercentage decimal.Decimal
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          decimal.Decimal
	AvgProfitLoss    decimal.Decimal // 平均盈利 / 平均亏损
	MaxDrawdown      decimal.Decimal // 百分比
	TotalFees        decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Render 把运行统计和 (模拟盘模式下的) 账户绩效打印为表格
func Render(w io.Writer, stats bot.Stats, paper *models.PaperSummary) {
	renderLoop(w, stats)
	if paper != nil {
		renderPaper(w, paper, CalculateMetrics(paper))
	}
}

func renderLoop(w io.Writer, stats bot.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("运行统计")
	t.AppendHeader(table.Row{"指标", "值"})

	if !stats.StartedAt.IsZero() {
		t.AppendRow(table.Row{"启动时间", stats.StartedAt.Format("2006-01-02 15:04:05")})
	}
	t.AppendRow(table.Row{"启动余额", stats.StartBalance.String()})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"迭代次数", stats.Ticks},
		{"评估K线数", stats.Evaluations},
		{"买入", stats.Buys},
		{"卖出", stats.Sells},
		{"观望", stats.Holds},
		{"重复K线", stats.Skipped},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"K线获取失败", stats.CandleFailures},
		{"资金流获取失败", stats.FlowFailures},
		{"放弃的K线", stats.FlowGiveUps},
		{"信号计算失败", stats.SignalFailures},
		{"价格获取失败", stats.PriceFailures},
		{"未下单(数量)", stats.SizingSkips},
		{"下单失败", stats.OrderFailures},
	})
	t.AppendSeparator()
	if stats.LastSignal != nil {
		t.AppendRow(table.Row{"最近信号", fmt.Sprintf("%s (%s)", stats.LastSignal.Action, stats.LastSignal.Strength.StringFixed(4))})
	} else {
		t.AppendRow(table.Row{"最近信号", "-"})
	}
	if !stats.LastCandle.IsZero() {
		t.AppendRow(table.Row{"最近K线", stats.LastCandle.Format("2006-01-02 15:04")})
	}
	t.Render()
}

func renderPaper(w io.Writer, s *models.PaperSummary, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("模拟盘结果 %s", s.Symbol))
	t.AppendHeader(table.Row{"指标", "值"})
	t.AppendRows([]table.Row{
		{"初始资金", s.InitialBalance.StringFixed(2)},
		{"钱包余额", s.WalletBalance.StringFixed(2)},
		{"未实现盈亏", s.UnrealizedPNL.StringFixed(2)},
		{"账户总权益", m.FinalEquity.StringFixed(2)},
		{"总利润", m.TotalProfit.StringFixed(2)},
		{"收益率", m.ProfitPercentage.StringFixed(2) + "%"},
		{"总手续费", m.TotalFees.StringFixed(4)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"成交笔数", s.Fills},
		{"平仓次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", m.WinRate.StringFixed(2) + "%"},
		{"平均盈亏比", m.AvgProfitLoss.StringFixed(2)},
		{"最大回撤", m.MaxDrawdown.StringFixed(2) + "%"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"当前持仓", s.Position.String()},
		{"持仓均价", s.AvgEntryPrice.String()},
		{"标记价格", s.MarkPrice.String()},
	})
	t.Render()

	if len(s.Trades) == 0 {
		return
	}
	trades := table.NewWriter()
	trades.SetOutputMirror(w)
	trades.SetStyle(table.StyleLight)
	trades.SetTitle("平仓记录")
	trades.AppendHeader(table.Row{"#", "方向", "数量", "开仓价", "平仓价", "持仓时长", "盈亏", "手续费"})
	for i, tr := range s.Trades {
		trades.AppendRow(table.Row{
			i + 1,
			tr.Side,
			tr.Quantity.String(),
			tr.EntryPrice.StringFixed(2),
			tr.ExitPrice.StringFixed(2),
			tr.HoldDuration.Round(time.Second).String(),
			tr.Profit.StringFixed(4),
			tr.Fee.StringFixed(4),
		})
	}
	trades.Render()
}

// CalculateMetrics 根据模拟账户快照计算绩效指标
func CalculateMetrics(s *models.PaperSummary) *Metrics {
	m := &Metrics{
		InitialBalance: s.InitialBalance,
		FinalEquity:    s.Equity,
		TotalFees:      s.TotalFees,
		TotalTrades:    len(s.Trades),
	}

	totalProfit, totalLoss := decimal.Zero, decimal.Zero
	for _, trade := range s.Trades {
		if trade.Profit.IsPositive() {
			m.WinningTrades++
			totalProfit = totalProfit.Add(trade.Profit)
		} else {
			m.LosingTrades++
			totalLoss = totalLoss.Add(trade.Profit)
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(hundred)
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && !totalLoss.IsZero() {
		avgWin := totalProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		avgLoss := totalLoss.Div(decimal.NewFromInt(int64(m.LosingTrades))).Abs()
		m.AvgProfitLoss = avgWin.Div(avgLoss)
	}

	m.TotalProfit = m.FinalEquity.Sub(m.InitialBalance)
	if !m.InitialBalance.IsZero() {
		m.ProfitPercentage = m.TotalProfit.Div(m.InitialBalance).Mul(hundred)
	}
	m.MaxDrawdown = calculateMaxDrawdown(s.EquityCurve).Mul(hundred)
	return m
}

func calculateMaxDrawdown(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 2 {
		return decimal.Zero
	}
	peak := equityCurve[0]
	maxDrawdown := decimal.Zero

	for _, equity := range equityCurve {
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if !peak.IsPositive() {
			continue
		}
		drawdown := peak.Sub(equity).Div(peak)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
