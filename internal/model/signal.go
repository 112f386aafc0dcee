package model

import "github.com/shopspring/decimal"

// SettlementStatus describes where a holding stands in today's settlement.
type SettlementStatus string

const (
	StatusBeforeCutoff SettlementStatus = "BEFORE_CUTOFF"
	StatusPending      SettlementStatus = "PENDING"
	StatusSettled      SettlementStatus = "SETTLED"
)

// SettlementEvent records one applied settlement.
type SettlementEvent struct {
	UserID    string
	Code      string
	Name      string
	Date      string
	DayProfit decimal.Decimal
	Before    decimal.Decimal
	After     decimal.Decimal
	Change    decimal.Decimal
}
