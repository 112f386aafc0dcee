package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for settlement and history keys.
const DateLayout = "2006-01-02"

// TimeLayout is the minute-resolution clock format of a history point.
const TimeLayout = "15:04"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// Holding is a user's tracked position in one fund.
type Holding struct {
	UserID             string          `json:"userId"`
	Code               string          `json:"code"`
	InitialCost        decimal.Decimal `json:"initialCost"`
	CurrentAmount      decimal.Decimal `json:"currentAmount"`
	LastSettlementDate *string         `json:"lastSettlementDate"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// TotalProfit is the cumulative profit since the holding was added.
func (h Holding) TotalProfit() decimal.Decimal {
	return h.CurrentAmount.Sub(h.InitialCost)
}

// SettledOn reports whether the holding was already settled on date.
func (h Holding) SettledOn(date string) bool {
	return h.LastSettlementDate != nil && *h.LastSettlementDate == date
}

// NewHolding validates the inputs and builds a holding that has never been settled.
func NewHolding(userID, code string, initialCost, currentAmount decimal.Decimal) (Holding, error) {
	h := Holding{
		UserID:        strings.TrimSpace(userID),
		Code:          strings.TrimSpace(code),
		InitialCost:   initialCost,
		CurrentAmount: currentAmount,
	}
	return h, h.Validate()
}

// NewHoldingFromProfit derives the initial cost from the current total and the
// profit accumulated so far, which is how positions are usually read off a broker app.
func NewHoldingFromProfit(userID, code string, totalAmount, holdingProfit decimal.Decimal) (Holding, error) {
	return NewHolding(userID, code, totalAmount.Sub(holdingProfit), totalAmount)
}

// Validate checks the fields a store is allowed to persist.
func (h Holding) Validate() error {
	if h.UserID == "" {
		return invalidf("user id is required")
	}
	if err := ValidateCode(h.Code); err != nil {
		return err
	}
	if h.InitialCost.IsNegative() {
		return invalidf("initial cost must not be negative")
	}
	if h.CurrentAmount.IsNegative() {
		return invalidf("current amount must not be negative")
	}
	if h.LastSettlementDate != nil {
		if err := ValidateDate(*h.LastSettlementDate); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCode accepts alphanumeric fund codes such as "000001".
func ValidateCode(code string) error {
	if code == "" {
		return invalidf("fund code is required")
	}
	if !codePattern.MatchString(code) {
		return invalidf("fund code %q is malformed", code)
	}
	return nil
}

// ValidateDate accepts YYYY-MM-DD.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return invalidf("date %q is not YYYY-MM-DD", date)
	}
	return nil
}

// HoldingPatch lists the fields a user edit may change. Nil fields are left alone.
type HoldingPatch struct {
	InitialCost        *decimal.Decimal
	CurrentAmount      *decimal.Decimal
	LastSettlementDate *string
	// ClearSettlement resets the holding to "never settled".
	ClearSettlement bool
}

// Empty reports whether the patch changes nothing.
func (p HoldingPatch) Empty() bool {
	return p.InitialCost == nil && p.CurrentAmount == nil && p.LastSettlementDate == nil && !p.ClearSettlement
}

// Validate rejects patches that would make a holding invalid.
func (p HoldingPatch) Validate() error {
	if p.Empty() {
		return invalidf("no valid fields to update")
	}
	if p.InitialCost != nil && p.InitialCost.IsNegative() {
		return invalidf("initial cost must not be negative")
	}
	if p.CurrentAmount != nil && p.CurrentAmount.IsNegative() {
		return invalidf("current amount must not be negative")
	}
	if p.LastSettlementDate != nil {
		if p.ClearSettlement {
			return invalidf("settlement date cannot be set and cleared at once")
		}
		if err := ValidateDate(*p.LastSettlementDate); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns h with the patch applied.
func (p HoldingPatch) Apply(h Holding) Holding {
	if p.InitialCost != nil {
		h.InitialCost = *p.InitialCost
	}
	if p.CurrentAmount != nil {
		h.CurrentAmount = *p.CurrentAmount
	}
	switch {
	case p.ClearSettlement:
		h.LastSettlementDate = nil
	case p.LastSettlementDate != nil:
		d := *p.LastSettlementDate
		h.LastSettlementDate = &d
	}
	return h
}
