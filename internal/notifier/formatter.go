package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FundTracker/internal/model"
)

// FormatSettlement formats an applied settlement into a Telegram message.
func FormatSettlement(evt model.SettlementEvent) string {
	var b strings.Builder
	name := evt.Code
	if evt.Name != "" {
		name = fmt.Sprintf("%s (%s)", html.EscapeString(evt.Name), evt.Code)
	}
	b.WriteString(fmt.Sprintf("✅ <b>今日已结算</b> | %s\n\n", evt.Date))
	b.WriteString(fmt.Sprintf("基金: %s\n", name))
	b.WriteString(fmt.Sprintf("估算涨跌: %s%%\n", signed(evt.Change)))
	b.WriteString(fmt.Sprintf("当日收益: ¥%s\n", signed(evt.DayProfit)))
	b.WriteString(fmt.Sprintf("持仓金额: ¥%s → ¥%s\n", evt.Before.StringFixed(2), evt.After.StringFixed(2)))
	return b.String()
}

// FormatPortfolio formats a portfolio summary for display.
func FormatPortfolio(userName string, sum model.PortfolioSummary, now time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>%s 的持仓</b> | %s\n\n", html.EscapeString(userName), now.Format("2006-01-02 15:04")))

	if len(sum.Holdings) == 0 {
		b.WriteString("暂无持仓")
		return b.String()
	}

	for _, v := range sum.Holdings {
		name := v.Holding.Code
		change := "--"
		if v.Estimate != nil {
			if v.Estimate.Name != "" {
				name = fmt.Sprintf("%s (%s)", html.EscapeString(v.Estimate.Name), v.Holding.Code)
			}
			change = signed(v.Estimate.ChangePercent) + "%"
		}
		b.WriteString(fmt.Sprintf("• %s\n", name))
		b.WriteString(fmt.Sprintf("  金额 ¥%s | 估值 %s | 当日 ¥%s | 累计 ¥%s | %s\n",
			v.Holding.CurrentAmount.StringFixed(2), change, signed(v.DayProfit), signed(v.TotalProfit), statusLabel(v.Status)))
	}

	b.WriteString("  ─────────────────\n")
	b.WriteString(fmt.Sprintf("总金额: ¥%s\n", sum.TotalAmount.StringFixed(2)))
	b.WriteString(fmt.Sprintf("当日收益: ¥%s\n", signed(sum.TotalDayProfit)))
	b.WriteString(fmt.Sprintf("累计收益: ¥%s", signed(sum.TotalProfit)))
	if sum.ReturnRateDefined {
		b.WriteString(fmt.Sprintf(" (%s%%)", signed(sum.TotalReturnRate.Shift(2))))
	}
	b.WriteString("\n")
	return b.String()
}

// FormatHelp lists the supported chat commands.
func FormatHelp() string {
	return "可用命令:\n• 查看持仓 (/portfolio)\n• 立即刷新 (/poll)"
}

// FormatPoll summarizes a manual poll.
func FormatPoll(holdings, ok, failed, settled int) string {
	return fmt.Sprintf("🔄 已刷新 %d 个持仓: 成功 %d, 失败 %d, 结算 %d", holdings, ok, failed, settled)
}

func statusLabel(s model.SettlementStatus) string {
	switch s {
	case model.StatusSettled:
		return "今日已结算"
	case model.StatusPending:
		return "待结算"
	default:
		return "交易中"
	}
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
