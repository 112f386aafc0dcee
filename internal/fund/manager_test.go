package fund

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"FundTracker/internal/collector"
	"FundTracker/internal/metrics"
	"FundTracker/internal/model"
	"FundTracker/internal/store"
)

type mockNotifier struct {
	mock.Mock
}

func (n *mockNotifier) NotifySettlement(ctx context.Context, evt model.SettlementEvent) error {
	return n.Called(ctx, evt).Error(0)
}

type fixture struct {
	mgr     *Manager
	store   store.Store
	fetcher *collector.MockFetcher
	clock   *clock
	user    model.User
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newFixture(t *testing.T, n Notifier) *fixture {
	t.Helper()
	st, err := store.NewMemory("", zerolog.Nop())
	require.NoError(t, err)
	return newFixtureWithStore(t, st, n)
}

func newFixtureWithStore(t *testing.T, st store.Store, n Notifier) *fixture {
	t.Helper()
	f := collector.NewMockFetcher(&model.ValuationEstimate{
		Code:          "000001",
		Name:          "华夏成长混合",
		EstimatedNAV:  dec("1.5"),
		ChangePercent: dec("1.35"),
		EstimatedAt:   "2024-01-15 14:05",
	})
	c := &clock{t: at(14, 5)}
	mgr := NewManager(st, f, n, metrics.New("test"), Options{Location: time.UTC}, zerolog.Nop())
	mgr.now = c.Now

	u, err := mgr.CreateUser(context.Background(), "alice")
	require.NoError(t, err)
	return &fixture{mgr: mgr, store: st, fetcher: f, clock: c, user: u}
}

func (fx *fixture) addHolding(t *testing.T, code, initial, current string) model.Holding {
	t.Helper()
	h, err := model.NewHolding(fx.user.ID, code, dec(initial), dec(current))
	require.NoError(t, err)
	saved, err := fx.mgr.AddHolding(context.Background(), h)
	require.NoError(t, err)
	return saved
}

func TestRunCycle_BeforeCutoffRecordsHistoryOnly(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")

	res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Equal(t, metrics.ResultOK, res.Result)
	assert.Equal(t, "135.00", res.DayProfit)
	assert.Nil(t, res.Settled)

	date, hist, err := fx.mgr.History(ctx, fx.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", date)
	assert.Equal(t, []model.HistoryPoint{{Time: "14:05", Value: "1.5000", Change: "1.35"}}, hist["000001"])

	h, err := fx.store.GetHolding(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.True(t, h.CurrentAmount.Equal(dec("10000")))
	assert.Nil(t, h.LastSettlementDate)
}

func TestRunCycle_SettlesOncePerDay(t *testing.T) {
	n := &mockNotifier{}
	n.On("NotifySettlement", mock.Anything, mock.MatchedBy(func(evt model.SettlementEvent) bool {
		return evt.Code == "000001" && evt.DayProfit.Equal(dec("135")) && evt.After.Equal(dec("10135"))
	})).Return(nil).Once()

	fx := newFixture(t, n)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	fx.clock.Set(at(16, 0))

	res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	require.NotNil(t, res.Settled)
	assert.Equal(t, "2024-01-15", res.Settled.Date)

	fx.clock.Set(at(16, 1))
	res, err = fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Nil(t, res.Settled)

	h, err := fx.store.GetHolding(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.True(t, h.CurrentAmount.Equal(dec("10135")))
	assert.True(t, h.InitialCost.Equal(dec("10000")))
	assert.True(t, h.SettledOn("2024-01-15"))
	n.AssertExpectations(t)

	// the next day settles against the settled amount
	n.On("NotifySettlement", mock.Anything, mock.Anything).Return(nil).Once()
	fx.clock.Set(at(16, 0).AddDate(0, 0, 1))
	res, err = fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	require.NotNil(t, res.Settled)
	assert.True(t, res.Settled.DayProfit.Equal(dec("136.82")))
}

func TestRunCycle_FetchFailureLeavesHoldingAlone(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	fx.clock.Set(at(16, 0))
	fx.fetcher.SetError(collector.ErrNoEstimate)

	res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Equal(t, metrics.ResultFetchFailed, res.Result)

	h, err := fx.store.GetHolding(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Nil(t, h.LastSettlementDate)
	_, hist, err := fx.mgr.History(ctx, fx.user.ID, "")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestRunCycle_GoneHolding(t *testing.T) {
	fx := newFixture(t, nil)
	res, err := fx.mgr.RunCycle(context.Background(), fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Equal(t, metrics.ResultGone, res.Result)
}

func TestRunCycle_ConcurrentCyclesSettleOnce(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	fx.clock.Set(at(16, 0))
	fx.fetcher.Delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
			assert.NoError(t, err)
			if res.Settled != nil {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	h, err := fx.store.GetHolding(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.True(t, h.CurrentAmount.Equal(dec("10135")))
}

func TestPollAll(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	fx.addHolding(t, "110022", "500", "500") // unknown to the fetcher

	bob, err := fx.mgr.CreateUser(ctx, "bob")
	require.NoError(t, err)
	h, err := model.NewHolding(bob.ID, "000001", dec("2000"), dec("2000"))
	require.NoError(t, err)
	_, err = fx.mgr.AddHolding(ctx, h)
	require.NoError(t, err)

	fx.clock.Set(at(15, 30))
	report, err := fx.mgr.PollAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Holdings)
	assert.Equal(t, 2, report.OK)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Settled, 2)
}

func TestPortfolio(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "9000", "10000")
	fx.addHolding(t, "110022", "1000", "1000")

	_, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)

	sum, err := fx.mgr.Portfolio(ctx, fx.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalAmount.Equal(dec("11000")))
	assert.True(t, sum.TotalInitialAmount.Equal(dec("10000")))
	assert.True(t, sum.TotalProfit.Equal(dec("1000")))
	assert.True(t, sum.TotalDayProfit.Equal(dec("135")))
	assert.True(t, sum.TotalReturnRate.Equal(dec("0.1")))
	assert.True(t, sum.ReturnRateDefined)
	require.Len(t, sum.Holdings, 2)
	assert.Equal(t, model.StatusBeforeCutoff, sum.Holdings[0].Status)
	assert.NotNil(t, sum.Holdings[0].Estimate)
	assert.Nil(t, sum.Holdings[1].Estimate)

	_, err = fx.mgr.Portfolio(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddHolding_FetchOnAdd(t *testing.T) {
	fx := newFixture(t, nil)
	fx.mgr.opts.FetchOnAdd = true
	fx.addHolding(t, "000001", "10000", "10000")
	fx.mgr.Wait()

	assert.Equal(t, 1, fx.fetcher.Calls("000001"))
	_, hist, err := fx.mgr.History(context.Background(), fx.user.ID, "")
	require.NoError(t, err)
	assert.Len(t, hist["000001"], 1)
}

func TestUserCommands(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")

	_, err := fx.mgr.AddHolding(ctx, model.Holding{UserID: fx.user.ID, Code: "bad code"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	amount := dec("12000")
	h, err := fx.mgr.UpdateHolding(ctx, fx.user.ID, "000001", model.HoldingPatch{CurrentAmount: &amount})
	require.NoError(t, err)
	assert.True(t, h.CurrentAmount.Equal(amount))

	_, _, err = fx.mgr.History(ctx, fx.user.ID, "15/01/2024")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	require.NoError(t, fx.mgr.DeleteHolding(ctx, fx.user.ID, "000001"))
	assert.ErrorIs(t, fx.mgr.DeleteHolding(ctx, fx.user.ID, "000001"), store.ErrNotFound)

	require.NoError(t, fx.mgr.DeleteUser(ctx, fx.user.ID))
	users, err := fx.mgr.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestEstimate(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	res, err := fx.mgr.Estimate(ctx, "000001", nil)
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(dec("10000")))
	assert.True(t, res.Profit.Equal(dec("135")))

	amount := dec("333.33")
	res, err = fx.mgr.Estimate(ctx, "000001", &amount)
	require.NoError(t, err)
	assert.True(t, res.Profit.Equal(dec("4.5")))

	_, err = fx.mgr.Estimate(ctx, "", nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	fx.fetcher.SetError(errors.New("down"))
	_, err = fx.mgr.Estimate(ctx, "000001", nil)
	assert.Error(t, err)
}

func TestPurgeHistory(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	require.NoError(t, fx.store.AppendHistory(ctx, fx.user.ID, "000001", "2023-12-01",
		model.HistoryPoint{Time: "10:00", Value: "1.0000", Change: "0.00"}, 50))
	_, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)

	n, err := fx.mgr.PurgeHistory(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = fx.mgr.PurgeHistory(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordPoint(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")

	require.NoError(t, fx.mgr.RecordPoint(ctx, fx.user.ID, "000001", "", "10:30", dec("1.23456"), dec("-0.5")))
	_, hist, err := fx.mgr.History(ctx, fx.user.ID, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []model.HistoryPoint{{Time: "10:30", Value: "1.2346", Change: "-0.50"}}, hist["000001"])

	err = fx.mgr.RecordPoint(ctx, fx.user.ID, "000001", "", "25:99", dec("1"), dec("0"))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	err = fx.mgr.RecordPoint(ctx, fx.user.ID, "999999", "", "10:30", dec("1"), dec("0"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// faultyStore fails the configured writes and passes everything else through.
type faultyStore struct {
	store.Store
	appendErr error
	settleErr error
}

func (s *faultyStore) AppendHistory(ctx context.Context, userID, code, date string, p model.HistoryPoint, limit int) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendHistory(ctx, userID, code, date, p, limit)
}

func (s *faultyStore) SettleHolding(ctx context.Context, userID, code, date string, amount decimal.Decimal) (bool, error) {
	if s.settleErr != nil {
		return false, s.settleErr
	}
	return s.Store.SettleHolding(ctx, userID, code, date, amount)
}

func TestRunCycle_StoreFailures(t *testing.T) {
	diskFull := errors.New("disk full")
	tests := []struct {
		name   string
		faulty faultyStore
	}{
		{"history append fails", faultyStore{appendErr: diskFull}},
		{"settlement write fails", faultyStore{settleErr: diskFull}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, err := store.NewMemory("", zerolog.Nop())
			require.NoError(t, err)
			st := tt.faulty
			st.Store = mem

			n := &mockNotifier{}
			fx := newFixtureWithStore(t, &st, n)
			ctx := context.Background()
			fx.addHolding(t, "000001", "10000", "10000")
			fx.clock.Set(at(16, 0))

			res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
			require.Error(t, err)
			assert.ErrorIs(t, err, diskFull)
			assert.Equal(t, metrics.ResultStoreFailed, res.Result)
			assert.Nil(t, res.Settled)

			h, err := mem.GetHolding(ctx, fx.user.ID, "000001")
			require.NoError(t, err)
			assert.True(t, h.CurrentAmount.Equal(dec("10000")))
			assert.Nil(t, h.LastSettlementDate)
			n.AssertNotCalled(t, "NotifySettlement", mock.Anything, mock.Anything)

			// the next cycle after the store recovers settles normally
			st.appendErr, st.settleErr = nil, nil
			n.On("NotifySettlement", mock.Anything, mock.Anything).Return(nil).Once()
			fx.clock.Set(at(16, 1))
			res, err = fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
			require.NoError(t, err)
			require.NotNil(t, res.Settled)
			assert.True(t, res.Settled.After.Equal(dec("10135")))
			n.AssertExpectations(t)
		})
	}
}

func TestRunCycle_UnwritableSnapshotDoesNotSettle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.json")
	mem, err := store.NewMemory(path, zerolog.Nop())
	require.NoError(t, err)
	fx := newFixtureWithStore(t, mem, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")
	fx.clock.Set(at(16, 0))

	tmp := path + ".tmp"
	require.NoError(t, os.MkdirAll(tmp, 0o755))
	res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.Error(t, err)
	assert.Equal(t, metrics.ResultStoreFailed, res.Result)

	h, err := mem.GetHolding(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Nil(t, h.LastSettlementDate)

	require.NoError(t, os.RemoveAll(tmp))
	res, err = fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	require.NotNil(t, res.Settled)
	assert.True(t, res.Settled.After.Equal(dec("10135")))
}

func TestPortfolio_IgnoresFailedAndStaleEstimates(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.addHolding(t, "000001", "10000", "10000")

	_, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	sum, err := fx.mgr.Portfolio(ctx, fx.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalDayProfit.Equal(dec("135")))

	// next morning, before any cycle ran, yesterday's estimate no longer counts
	fx.clock.Set(at(10, 0).AddDate(0, 0, 1))
	sum, err = fx.mgr.Portfolio(ctx, fx.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalDayProfit.IsZero())
	assert.Nil(t, sum.Holdings[0].Estimate)

	// a successful cycle brings it back, a failed one removes it again
	_, err = fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	sum, err = fx.mgr.Portfolio(ctx, fx.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalDayProfit.Equal(dec("135")))

	fx.fetcher.SetError(collector.ErrNoEstimate)
	fx.clock.Set(at(10, 1).AddDate(0, 0, 1))
	res, err := fx.mgr.RunCycle(ctx, fx.user.ID, "000001")
	require.NoError(t, err)
	assert.Equal(t, metrics.ResultFetchFailed, res.Result)
	sum, err = fx.mgr.Portfolio(ctx, fx.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalDayProfit.IsZero())
	assert.Empty(t, fx.mgr.Estimates())
}

func TestOptions_CutoffHourDefault(t *testing.T) {
	for _, hour := range []int{0, -3} {
		o := Options{CutoffHour: hour}
		o.setDefaults()
		assert.Equal(t, DefaultCutoffHour, o.CutoffHour)
	}
	o := Options{CutoffHour: 1}
	o.setDefaults()
	assert.Equal(t, 1, o.CutoffHour)
}
