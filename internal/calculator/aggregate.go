package calculator

import (
	"github.com/shopspring/decimal"

	"FundTracker/internal/model"
)

// Aggregate folds a user's holdings and the latest estimates (keyed by fund code)
// into portfolio totals. Holdings without an estimate add nothing to the day profit
// but still count towards every other total.
func Aggregate(holdings []model.Holding, estimates map[string]*model.ValuationEstimate) model.PortfolioSummary {
	sum := model.PortfolioSummary{
		TotalAmount:        decimal.Zero,
		TotalInitialAmount: decimal.Zero,
		TotalDayProfit:     decimal.Zero,
		Holdings:           make([]model.HoldingView, 0, len(holdings)),
	}

	for _, h := range holdings {
		view := model.HoldingView{
			Holding:     h,
			DayProfit:   decimal.Zero,
			TotalProfit: h.TotalProfit(),
		}
		if est, ok := estimates[h.Code]; ok && est != nil {
			view.Estimate = est
			view.DayProfit = Profit(h.CurrentAmount, est.ChangePercent)
		}

		sum.TotalAmount = sum.TotalAmount.Add(h.CurrentAmount)
		sum.TotalInitialAmount = sum.TotalInitialAmount.Add(h.InitialCost)
		sum.TotalDayProfit = sum.TotalDayProfit.Add(view.DayProfit)
		sum.Holdings = append(sum.Holdings, view)
	}

	sum.TotalProfit = sum.TotalAmount.Sub(sum.TotalInitialAmount)
	sum.TotalReturnRate, sum.ReturnRateDefined = ReturnRate(sum.TotalProfit, sum.TotalInitialAmount)
	return sum
}
