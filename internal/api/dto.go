package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"FundTracker/internal/fund"
	"FundTracker/internal/model"
)

// Amounts go out as JSON numbers so the front end can do arithmetic on them.
func num(d decimal.Decimal) json.Number { return json.Number(d.String()) }

func money(d decimal.Decimal) json.Number { return json.Number(d.StringFixed(2)) }

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type userJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

func toUser(u model.User) userJSON {
	return userJSON{ID: u.ID, Name: u.Name, CreatedAt: u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")}
}

type holdingJSON struct {
	Code               string      `json:"code"`
	InitialCost        json.Number `json:"initialCost"`
	CurrentAmount      json.Number `json:"currentAmount"`
	LastSettlementDate *string     `json:"lastSettlementDate"`
}

func toHolding(h model.Holding) holdingJSON {
	return holdingJSON{
		Code:               h.Code,
		InitialCost:        num(h.InitialCost),
		CurrentAmount:      num(h.CurrentAmount),
		LastSettlementDate: h.LastSettlementDate,
	}
}

// estimateJSON keeps the field names of the valuation oracle.
type estimateJSON struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	NAVDate  string `json:"jzrq"`
	PrevNAV  string `json:"dwjz"`
	EstNAV   string `json:"gsz"`
	Change   string `json:"gszzl"`
	EstTime  string `json:"gztime"`
}

func toEstimate(est *model.ValuationEstimate) *estimateJSON {
	if est == nil {
		return nil
	}
	return &estimateJSON{
		FundCode: est.Code,
		Name:     est.Name,
		NAVDate:  est.NAVDate,
		PrevNAV:  est.PrevNAV.String(),
		EstNAV:   est.EstimatedNAV.String(),
		Change:   est.ChangePercent.String(),
		EstTime:  est.EstimatedAt,
	}
}

type estimateResponse struct {
	Estimate      *estimateJSON `json:"estimate"`
	HoldingAmount json.Number   `json:"holdingAmount"`
	Profit        json.Number   `json:"profit"`
}

func toEstimateResponse(r fund.EstimateResult) estimateResponse {
	return estimateResponse{Estimate: toEstimate(r.Estimate), HoldingAmount: num(r.Amount), Profit: money(r.Profit)}
}

type historyResponse struct {
	Date string                          `json:"date"`
	Data map[string][]model.HistoryPoint `json:"data"`
}

type holdingViewJSON struct {
	holdingJSON
	Name        string        `json:"name"`
	DayProfit   json.Number   `json:"dayProfit"`
	TotalProfit json.Number   `json:"totalProfit"`
	Status      string        `json:"status"`
	Estimate    *estimateJSON `json:"estimate"`
}

type portfolioResponse struct {
	UserID             string            `json:"userId"`
	TotalAmount        json.Number       `json:"totalAmount"`
	TotalInitialAmount json.Number       `json:"totalInitialAmount"`
	TotalProfit        json.Number       `json:"totalProfit"`
	TotalDayProfit     json.Number       `json:"totalDayProfit"`
	TotalReturnRate    *json.Number      `json:"totalReturnRate"`
	Holdings           []holdingViewJSON `json:"holdings"`
}

func toPortfolio(userID string, sum model.PortfolioSummary) portfolioResponse {
	out := portfolioResponse{
		UserID:             userID,
		TotalAmount:        money(sum.TotalAmount),
		TotalInitialAmount: money(sum.TotalInitialAmount),
		TotalProfit:        money(sum.TotalProfit),
		TotalDayProfit:     money(sum.TotalDayProfit),
		Holdings:           make([]holdingViewJSON, 0, len(sum.Holdings)),
	}
	if sum.ReturnRateDefined {
		rate := json.Number(sum.TotalReturnRate.StringFixed(6))
		out.TotalReturnRate = &rate
	}
	for _, v := range sum.Holdings {
		hv := holdingViewJSON{
			holdingJSON: toHolding(v.Holding),
			DayProfit:   money(v.DayProfit),
			TotalProfit: money(v.TotalProfit),
			Status:      string(v.Status),
			Estimate:    toEstimate(v.Estimate),
		}
		if v.Estimate != nil {
			hv.Name = v.Estimate.Name
		}
		out.Holdings = append(out.Holdings, hv)
	}
	return out
}

type settledJSON struct {
	UserID    string      `json:"userId"`
	Code      string      `json:"code"`
	Date      string      `json:"date"`
	DayProfit json.Number `json:"dayProfit"`
	Amount    json.Number `json:"currentAmount"`
}

type pollResponse struct {
	Holdings   int           `json:"holdings"`
	OK         int           `json:"ok"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Settled    []settledJSON `json:"settled"`
	DurationMS int64         `json:"durationMs"`
}

func toPoll(r fund.PollReport) pollResponse {
	out := pollResponse{
		Holdings:   r.Holdings,
		OK:         r.OK,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Settled:    make([]settledJSON, 0, len(r.Settled)),
		DurationMS: r.Duration.Milliseconds(),
	}
	for _, e := range r.Settled {
		out.Settled = append(out.Settled, settledJSON{
			UserID:    e.UserID,
			Code:      e.Code,
			Date:      e.Date,
			DayProfit: money(e.DayProfit),
			Amount:    num(e.After),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
