package fund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FundTracker/internal/metrics"
	"FundTracker/internal/model"
	"FundTracker/internal/store"
)

// CycleResult describes one poll cycle of one holding.
type CycleResult struct {
	UserID string
	Code   string
	// Result is one of the metrics.Result* outcomes.
	Result    string
	DayProfit string
	Settled   *model.SettlementEvent
}

// PollReport summarizes a PollAll run.
type PollReport struct {
	Holdings int
	OK       int
	Skipped  int
	Failed   int
	Settled  []model.SettlementEvent
	Duration time.Duration
}

// RunCycle polls one holding: fetch, profit, history append, settlement.
// A failed fetch is not an error; the holding is simply left as it was.
// Storage failures are returned and nothing after them is attempted.
func (m *Manager) RunCycle(ctx context.Context, userID, code string) (res CycleResult, err error) {
	res = CycleResult{UserID: userID, Code: code}
	defer func() { m.metrics.ObservePoll(res.Result) }()

	l := m.locks.get(userID, code)
	if !l.TryLock() {
		m.log.Debug().Str("user", userID).Str("code", code).Msg("previous cycle still running, skipping")
		res.Result = metrics.ResultBusy
		return res, nil
	}
	defer l.Unlock()

	h, err := m.store.GetHolding(ctx, userID, code)
	if errors.Is(err, store.ErrNotFound) {
		res.Result = metrics.ResultGone
		return res, nil
	}
	if err != nil {
		res.Result = metrics.ResultStoreFailed
		return res, fmt.Errorf("load holding: %w", err)
	}

	est, err := m.fetcher.Fetch(ctx, code)
	if err != nil {
		m.dropEstimate(code)
		m.log.Warn().Err(err).Str("user", userID).Str("code", code).Msg("no estimate, cycle skipped")
		res.Result = metrics.ResultFetchFailed
		return res, nil
	}

	now := m.Now()
	m.setEstimate(code, est, now.Format(model.DateLayout))
	d := Decide(h, now, est, m.opts.CutoffHour)
	res.DayProfit = d.DayProfit.StringFixed(2)

	if err := m.store.AppendHistory(ctx, userID, code, d.Date, model.NewHistoryPoint(now, est), m.opts.HistoryLimit); err != nil {
		res.Result = metrics.ResultStoreFailed
		return res, fmt.Errorf("append history: %w", err)
	}

	if d.Settle {
		applied, err := m.store.SettleHolding(ctx, userID, code, d.Date, d.NewAmount)
		if err != nil {
			res.Result = metrics.ResultStoreFailed
			return res, fmt.Errorf("settle: %w", err)
		}
		if applied {
			evt := model.SettlementEvent{
				UserID:    userID,
				Code:      code,
				Name:      est.Name,
				Date:      d.Date,
				DayProfit: d.DayProfit,
				Before:    h.CurrentAmount,
				After:     d.NewAmount,
				Change:    est.ChangePercent,
			}
			res.Settled = &evt
			m.metrics.ObserveSettlement()
			m.log.Info().Str("user", userID).Str("code", code).Str("date", d.Date).
				Str("profit", d.DayProfit.StringFixed(2)).Str("amount", d.NewAmount.StringFixed(2)).
				Msg("settled holding")
			m.notify(ctx, evt)
		}
	}

	res.Result = metrics.ResultOK
	return res, nil
}

func (m *Manager) notify(ctx context.Context, evt model.SettlementEvent) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifySettlement(ctx, evt); err != nil {
		m.log.Error().Err(err).Str("code", evt.Code).Msg("send settlement notification")
	}
}

// PollAll runs one cycle for every holding of every user concurrently and
// waits for all of them.
func (m *Manager) PollAll(ctx context.Context) (PollReport, error) {
	start := time.Now()
	holdings, err := m.store.ListAllHoldings(ctx)
	if err != nil {
		return PollReport{}, fmt.Errorf("list holdings: %w", err)
	}
	m.metrics.SetHoldingsPolled(len(holdings))

	results := make([]CycleResult, len(holdings))
	errs := make([]error, len(holdings))
	var wg sync.WaitGroup
	for i, h := range holdings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.RunCycle(ctx, h.UserID, h.Code)
		}()
	}
	wg.Wait()

	report := PollReport{Holdings: len(holdings)}
	for i, r := range results {
		if errs[i] != nil {
			m.log.Error().Err(errs[i]).Str("user", r.UserID).Str("code", r.Code).Msg("poll cycle failed")
		}
		switch r.Result {
		case metrics.ResultOK:
			report.OK++
		case metrics.ResultBusy, metrics.ResultGone:
			report.Skipped++
		default:
			report.Failed++
		}
		if r.Settled != nil {
			report.Settled = append(report.Settled, *r.Settled)
		}
	}
	report.Duration = time.Since(start)

	m.log.Debug().Int("holdings", report.Holdings).Int("ok", report.OK).Int("failed", report.Failed).
		Int("skipped", report.Skipped).Int("settled", len(report.Settled)).Dur("took", report.Duration).
		Msg("poll finished")
	return report, nil
}
