package model

import "github.com/shopspring/decimal"

// HoldingView is a holding joined with its latest estimate for display.
type HoldingView struct {
	Holding     Holding
	Estimate    *ValuationEstimate
	DayProfit   decimal.Decimal
	TotalProfit decimal.Decimal
	Status      SettlementStatus
}

// PortfolioSummary holds the totals across all holdings of one user.
type PortfolioSummary struct {
	TotalAmount        decimal.Decimal
	TotalInitialAmount decimal.Decimal
	TotalProfit        decimal.Decimal
	TotalDayProfit     decimal.Decimal
	// TotalReturnRate is a fraction (0.05 == 5%). It is zero and
	// ReturnRateDefined is false when nothing was invested.
	TotalReturnRate   decimal.Decimal
	ReturnRateDefined bool
	Holdings          []HoldingView
}
