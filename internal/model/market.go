package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationEstimate is one intraday NAV estimate reported by the valuation oracle.
// It lives in memory only; history points are derived from it.
type ValuationEstimate struct {
	Code          string
	Name          string
	NAVDate       string          // jzrq, date of PrevNAV
	PrevNAV       decimal.Decimal // dwjz
	EstimatedNAV  decimal.Decimal // gsz
	ChangePercent decimal.Decimal // gszzl, already in percent
	EstimatedAt   string          // gztime as reported by the oracle
	FetchedAt     time.Time
}

// HistoryPoint is an intraday sample of one holding.
type HistoryPoint struct {
	Time   string `json:"time"`
	Value  string `json:"value"`
	Change string `json:"change"`
}

// NewHistoryPoint stamps an estimate with the local minute it was observed at.
func NewHistoryPoint(at time.Time, est *ValuationEstimate) HistoryPoint {
	return HistoryPoint{
		Time:   at.Format(TimeLayout),
		Value:  est.EstimatedNAV.StringFixed(4),
		Change: est.ChangePercent.StringFixed(2),
	}
}
