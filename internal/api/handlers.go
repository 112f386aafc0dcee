package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"FundTracker/internal/model"
	"FundTracker/internal/store"
)

// fail maps err to a status code. Server-side failures are logged and
// answered with msg instead of the raw error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(msg)
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Users

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.fund.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to fetch users")
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, toUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	u, err := s.fund.CreateUser(r.Context(), req.Name)
	if err != nil {
		s.fail(w, r, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, toUser(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "missing id")
		return
	}
	if err := s.fund.DeleteUser(r.Context(), id); err != nil {
		s.fail(w, r, err, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Funds

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "missing userId")
		return
	}
	holdings, err := s.fund.Holdings(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err, "failed to fetch funds")
		return
	}
	out := make([]holdingJSON, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, toHolding(h))
	}
	writeJSON(w, http.StatusOK, out)
}

type addFundRequest struct {
	UserID             string           `json:"userId"`
	Code               string           `json:"code"`
	InitialCost        *decimal.Decimal `json:"initialCost"`
	CurrentAmount      *decimal.Decimal `json:"currentAmount"`
	LastSettlementDate *string          `json:"lastSettlementDate"`
	// TotalAmount and HoldingProfit are what a broker app shows; when given
	// they take precedence over InitialCost and CurrentAmount.
	TotalAmount   *decimal.Decimal `json:"totalAmount"`
	HoldingProfit *decimal.Decimal `json:"holdingProfit"`
}

func (req addFundRequest) holding() (model.Holding, error) {
	var (
		h   model.Holding
		err error
	)
	switch {
	case req.TotalAmount != nil:
		profit := decimal.Zero
		if req.HoldingProfit != nil {
			profit = *req.HoldingProfit
		}
		h, err = model.NewHoldingFromProfit(req.UserID, req.Code, *req.TotalAmount, profit)
	case req.InitialCost != nil:
		current := *req.InitialCost
		if req.CurrentAmount != nil {
			current = *req.CurrentAmount
		}
		h, err = model.NewHolding(req.UserID, req.Code, *req.InitialCost, current)
	default:
		return model.Holding{}, fmt.Errorf("%w: initialCost or totalAmount is required", model.ErrInvalidInput)
	}
	if err != nil {
		return model.Holding{}, err
	}
	h.LastSettlementDate = req.LastSettlementDate
	return h, h.Validate()
}

func (s *Server) handleAddFund(w http.ResponseWriter, r *http.Request) {
	var req addFundRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	h, err := req.holding()
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	saved, err := s.fund.AddHolding(r.Context(), h)
	if err != nil {
		s.fail(w, r, err, "failed to add fund")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Fund    holdingJSON `json:"fund"`
	}{true, toHolding(saved)})
}

type updateFundRequest struct {
	UserID        string           `json:"userId"`
	Code          string           `json:"code"`
	InitialCost   *decimal.Decimal `json:"initialCost"`
	CurrentAmount *decimal.Decimal `json:"currentAmount"`
	// Absent leaves the date alone, null clears it.
	LastSettlementDate json.RawMessage `json:"lastSettlementDate"`
}

func (req updateFundRequest) patch() (model.HoldingPatch, error) {
	p := model.HoldingPatch{InitialCost: req.InitialCost, CurrentAmount: req.CurrentAmount}
	raw := strings.TrimSpace(string(req.LastSettlementDate))
	switch raw {
	case "":
	case "null":
		p.ClearSettlement = true
	default:
		var date string
		if err := json.Unmarshal(req.LastSettlementDate, &date); err != nil {
			return p, fmt.Errorf("%w: lastSettlementDate must be a string or null", model.ErrInvalidInput)
		}
		p.LastSettlementDate = &date
	}
	return p, nil
}

func (s *Server) handleUpdateFund(w http.ResponseWriter, r *http.Request) {
	var req updateFundRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if req.UserID == "" || req.Code == "" {
		badRequest(w, "missing userId or code")
		return
	}
	p, err := req.patch()
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	h, err := s.fund.UpdateHolding(r.Context(), req.UserID, req.Code, p)
	if err != nil {
		s.fail(w, r, err, "failed to update fund")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Fund    holdingJSON `json:"fund"`
	}{true, toHolding(h)})
}

func (s *Server) handleDeleteFund(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, code := q.Get("userId"), q.Get("code")
	if userID == "" || code == "" {
		badRequest(w, "missing userId or code")
		return
	}
	if err := s.fund.DeleteHolding(r.Context(), userID, code); err != nil {
		s.fail(w, r, err, "failed to delete fund")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// History

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		badRequest(w, "missing userId")
		return
	}
	date, data, err := s.fund.History(r.Context(), userID, q.Get("date"))
	if err != nil {
		s.fail(w, r, err, "failed to fetch history")
		return
	}
	if data == nil {
		data = map[string][]model.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Date: date, Data: data})
}

func (s *Server) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string           `json:"userId"`
		FundCode string           `json:"fundCode"`
		Date     string           `json:"date"`
		Time     string           `json:"time"`
		Value    *decimal.Decimal `json:"value"`
		Change   *decimal.Decimal `json:"change"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if req.UserID == "" || req.FundCode == "" || req.Time == "" || req.Value == nil || req.Change == nil {
		badRequest(w, "missing required fields")
		return
	}
	err := s.fund.RecordPoint(r.Context(), req.UserID, req.FundCode, req.Date, req.Time, *req.Value, *req.Change)
	if err != nil {
		s.fail(w, r, err, "failed to save history")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		badRequest(w, "missing userId")
		return
	}
	n, err := s.fund.ClearHistory(r.Context(), userID, q.Get("date"))
	if err != nil {
		s.fail(w, r, err, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool  `json:"success"`
		Deleted int64 `json:"deleted"`
	}{true, n})
}

// Valuations

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		badRequest(w, "missing fund code")
		return
	}
	var amount *decimal.Decimal
	if v := q.Get("amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			badRequest(w, fmt.Sprintf("amount %q is not a number", v))
			return
		}
		amount = &d
	}
	res, err := s.fund.Estimate(r.Context(), code, amount)
	if err != nil {
		s.fail(w, r, err, "failed to fetch fund estimate")
		return
	}
	writeJSON(w, http.StatusOK, toEstimateResponse(res))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "missing userId")
		return
	}
	sum, err := s.fund.Portfolio(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err, "failed to build portfolio")
		return
	}
	writeJSON(w, http.StatusOK, toPortfolio(userID, sum))
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "polling is not available"})
		return
	}
	report, err := s.poller.RunPollNow(r.Context())
	if err != nil {
		s.fail(w, r, err, "poll failed")
		return
	}
	writeJSON(w, http.StatusOK, toPoll(report))
}
