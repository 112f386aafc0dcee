package fund

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FundTracker/internal/calculator"
	"FundTracker/internal/collector"
	"FundTracker/internal/history"
	"FundTracker/internal/metrics"
	"FundTracker/internal/model"
	"FundTracker/internal/store"
)

// DefaultEstimateAmount is the notional used by Estimate when none is given.
var DefaultEstimateAmount = decimal.NewFromInt(10000)

// Notifier receives applied settlements.
type Notifier interface {
	NotifySettlement(ctx context.Context, evt model.SettlementEvent) error
}

// Options tune the settlement engine.
type Options struct {
	// CutoffHour is the local hour (1..23) from which a day is settled.
	// Zero or negative values select DefaultCutoffHour.
	CutoffHour   int
	Location     *time.Location
	HistoryLimit int
	// FetchOnAdd runs a poll cycle for a holding right after it is added.
	FetchOnAdd bool
	// RefreshTimeout bounds the cycle started by FetchOnAdd.
	RefreshTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.CutoffHour <= 0 {
		o.CutoffHour = DefaultCutoffHour
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = history.DefaultLimit
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 30 * time.Second
	}
}

// Manager owns every state change of holdings: user commands and poll cycles
// go through it so that each holding has a single writer.
type Manager struct {
	store    store.Store
	fetcher  collector.Fetcher
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	opts     Options
	now      func() time.Time

	locks keyedLocks
	wg    sync.WaitGroup

	estMu     sync.RWMutex
	estimates map[string]cachedEstimate
}

// cachedEstimate is the latest successful fetch of a code and the
// settlement date of the cycle that made it.
type cachedEstimate struct {
	est  *model.ValuationEstimate
	date string
}

// NewManager creates a Manager. notifier and m may be nil.
func NewManager(st store.Store, f collector.Fetcher, notifier Notifier, m *metrics.Metrics, opts Options, log zerolog.Logger) *Manager {
	opts.setDefaults()
	return &Manager{
		store:     st,
		fetcher:   f,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		opts:      opts,
		now:       time.Now,
		estimates: make(map[string]cachedEstimate),
	}
}

// Now returns the current time in the settlement timezone.
func (m *Manager) Now() time.Time { return m.now().In(m.opts.Location) }

// Today returns the current settlement date.
func (m *Manager) Today() string { return m.Now().Format(model.DateLayout) }

// Wait blocks until background refreshes started by AddHolding finish.
func (m *Manager) Wait() { m.wg.Wait() }

// Users

func (m *Manager) CreateUser(ctx context.Context, name string) (model.User, error) {
	u, err := model.NewUser(name, m.now().UTC())
	if err != nil {
		return model.User{}, err
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	m.log.Info().Str("user", u.ID).Str("name", u.Name).Msg("user created")
	return u, nil
}

func (m *Manager) ListUsers(ctx context.Context) ([]model.User, error) {
	return m.store.ListUsers(ctx)
}

func (m *Manager) User(ctx context.Context, id string) (model.User, error) {
	return m.store.GetUser(ctx, id)
}

// DeleteUser removes the user with all holdings and history, waiting for
// in-flight cycles of those holdings first.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	holdings, err := m.store.GetHoldings(ctx, id)
	if err != nil {
		return err
	}
	codes := make([]string, len(holdings))
	for i, h := range holdings {
		codes[i] = h.Code
	}
	unlock := m.locks.lockAll(id, codes)
	defer unlock()

	if err := m.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	m.log.Info().Str("user", id).Int("holdings", len(holdings)).Msg("user deleted")
	return nil
}

// Holdings

// AddHolding inserts h, or overwrites the amounts of an existing holding with
// the same code.
func (m *Manager) AddHolding(ctx context.Context, h model.Holding) (model.Holding, error) {
	if err := h.Validate(); err != nil {
		return model.Holding{}, err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = m.now().UTC()
	}

	l := m.locks.get(h.UserID, h.Code)
	l.Lock()
	saved, err := m.store.UpsertHolding(ctx, h)
	l.Unlock()
	if err != nil {
		return model.Holding{}, err
	}
	m.log.Info().Str("user", saved.UserID).Str("code", saved.Code).
		Str("initial_cost", saved.InitialCost.String()).Str("current_amount", saved.CurrentAmount.String()).
		Msg("holding saved")

	if m.opts.FetchOnAdd {
		m.refreshAsync(saved.UserID, saved.Code)
	}
	return saved, nil
}

func (m *Manager) refreshAsync(userID, code string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.RefreshTimeout)
		defer cancel()
		if _, err := m.RunCycle(ctx, userID, code); err != nil {
			m.log.Error().Err(err).Str("user", userID).Str("code", code).Msg("refresh after add failed")
		}
	}()
}

func (m *Manager) Holdings(ctx context.Context, userID string) ([]model.Holding, error) {
	return m.store.GetHoldings(ctx, userID)
}

func (m *Manager) UpdateHolding(ctx context.Context, userID, code string, p model.HoldingPatch) (model.Holding, error) {
	if err := p.Validate(); err != nil {
		return model.Holding{}, err
	}
	l := m.locks.get(userID, code)
	l.Lock()
	defer l.Unlock()

	h, err := m.store.UpdateHolding(ctx, userID, code, p)
	if err != nil {
		return model.Holding{}, err
	}
	m.log.Info().Str("user", userID).Str("code", code).Msg("holding updated")
	return h, nil
}

func (m *Manager) DeleteHolding(ctx context.Context, userID, code string) error {
	l := m.locks.get(userID, code)
	l.Lock()
	defer l.Unlock()

	if err := m.store.DeleteHolding(ctx, userID, code); err != nil {
		return err
	}
	m.log.Info().Str("user", userID).Str("code", code).Msg("holding deleted")
	return nil
}

// History

// History returns the points of date (today when empty) grouped by code.
func (m *Manager) History(ctx context.Context, userID, date string) (string, map[string][]model.HistoryPoint, error) {
	if date == "" {
		date = m.Today()
	} else if err := model.ValidateDate(date); err != nil {
		return "", nil, err
	}
	points, err := m.store.GetHistory(ctx, userID, date)
	return date, points, err
}

// RecordPoint stores a client-supplied sample for date (today when empty).
func (m *Manager) RecordPoint(ctx context.Context, userID, code, date, at string, value, change decimal.Decimal) error {
	if err := model.ValidateCode(code); err != nil {
		return err
	}
	if date == "" {
		date = m.Today()
	} else if err := model.ValidateDate(date); err != nil {
		return err
	}
	if _, err := time.Parse(model.TimeLayout, at); err != nil {
		return fmt.Errorf("%w: time %q is not HH:mm", model.ErrInvalidInput, at)
	}
	p := model.HistoryPoint{Time: at, Value: value.StringFixed(4), Change: change.StringFixed(2)}

	l := m.locks.get(userID, code)
	l.Lock()
	defer l.Unlock()
	return m.store.AppendHistory(ctx, userID, code, date, p, m.opts.HistoryLimit)
}

// ClearHistory removes a user's points of date, or of every date when empty.
func (m *Manager) ClearHistory(ctx context.Context, userID, date string) (int64, error) {
	if date != "" {
		if err := model.ValidateDate(date); err != nil {
			return 0, err
		}
	}
	n, err := m.store.ClearHistory(ctx, userID, date)
	if err != nil {
		return 0, err
	}
	m.log.Info().Str("user", userID).Str("date", date).Int64("points", n).Msg("history cleared")
	return n, nil
}

// PurgeHistory deletes points older than retentionDays days.
func (m *Manager) PurgeHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	before := m.Now().AddDate(0, 0, -retentionDays).Format(model.DateLayout)
	n, err := m.store.PurgeHistoryBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	m.log.Info().Str("before", before).Int64("points", n).Msg("history purged")
	return n, nil
}

// Valuations

func (m *Manager) setEstimate(code string, est *model.ValuationEstimate, date string) {
	m.estMu.Lock()
	defer m.estMu.Unlock()
	m.estimates[code] = cachedEstimate{est: est, date: date}
}

// dropEstimate forgets code after a failed fetch, so it counts as unvalued
// until the next successful cycle.
func (m *Manager) dropEstimate(code string) {
	m.estMu.Lock()
	defer m.estMu.Unlock()
	delete(m.estimates, code)
}

// Estimates returns the latest estimate per code fetched today. Estimates
// left over from an earlier day are not returned.
func (m *Manager) Estimates() map[string]*model.ValuationEstimate {
	today := m.Today()
	m.estMu.RLock()
	defer m.estMu.RUnlock()
	out := make(map[string]*model.ValuationEstimate, len(m.estimates))
	for k, v := range m.estimates {
		if v.date == today {
			out[k] = v.est
		}
	}
	return out
}

// Portfolio aggregates a user's holdings with the latest estimates.
func (m *Manager) Portfolio(ctx context.Context, userID string) (model.PortfolioSummary, error) {
	if _, err := m.store.GetUser(ctx, userID); err != nil {
		return model.PortfolioSummary{}, err
	}
	holdings, err := m.store.GetHoldings(ctx, userID)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	sum := calculator.Aggregate(holdings, m.Estimates())
	now := m.Now()
	for i := range sum.Holdings {
		sum.Holdings[i].Status = Status(sum.Holdings[i].Holding, now, m.opts.CutoffHour)
	}
	return sum, nil
}

// EstimateResult is a one-off valuation of a notional amount.
type EstimateResult struct {
	Estimate *model.ValuationEstimate
	Amount   decimal.Decimal
	Profit   decimal.Decimal
}

// Estimate fetches code and values amount against it without touching any holding.
func (m *Manager) Estimate(ctx context.Context, code string, amount *decimal.Decimal) (EstimateResult, error) {
	if err := model.ValidateCode(code); err != nil {
		return EstimateResult{}, err
	}
	amt := DefaultEstimateAmount
	if amount != nil {
		if amount.IsNegative() {
			return EstimateResult{}, fmt.Errorf("%w: amount must not be negative", model.ErrInvalidInput)
		}
		amt = *amount
	}
	est, err := m.fetcher.Fetch(ctx, code)
	if err != nil {
		return EstimateResult{}, err
	}
	return EstimateResult{Estimate: est, Amount: amt, Profit: calculator.Profit(amt, est.ChangePercent)}, nil
}
