package fund

import (
	"time"

	"github.com/shopspring/decimal"

	"FundTracker/internal/calculator"
	"FundTracker/internal/model"
)

// DefaultCutoffHour is the local hour from which a day's profit is settled.
const DefaultCutoffHour = 15

// Decision is the outcome of evaluating one holding against one estimate.
type Decision struct {
	Settle    bool
	Date      string
	DayProfit decimal.Decimal
	NewAmount decimal.Decimal
}

// Decide computes today's profit for h and whether it is due for settlement.
// now must already be in the settlement timezone. A holding settles at most
// once per calendar day, only at or after cutoffHour and only with an estimate;
// missed days are not backfilled.
func Decide(h model.Holding, now time.Time, est *model.ValuationEstimate, cutoffHour int) Decision {
	d := Decision{Date: now.Format(model.DateLayout), DayProfit: decimal.Zero, NewAmount: h.CurrentAmount}
	if est == nil {
		return d
	}
	d.DayProfit = calculator.Profit(h.CurrentAmount, est.ChangePercent)
	if now.Hour() < cutoffHour || h.SettledOn(d.Date) {
		return d
	}
	d.Settle = true
	d.NewAmount = h.CurrentAmount.Add(d.DayProfit)
	return d
}

// Status reports where h stands in today's settlement.
func Status(h model.Holding, now time.Time, cutoffHour int) model.SettlementStatus {
	switch {
	case h.SettledOn(now.Format(model.DateLayout)):
		return model.StatusSettled
	case now.Hour() < cutoffHour:
		return model.StatusBeforeCutoff
	default:
		return model.StatusPending
	}
}
