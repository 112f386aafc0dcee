package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundTracker/internal/collector"
	"FundTracker/internal/fund"
	"FundTracker/internal/model"
	"FundTracker/internal/store"
)

func newScheduler(t *testing.T) (*Scheduler, *fund.Manager, model.User) {
	t.Helper()
	st, err := store.NewMemory("", zerolog.Nop())
	require.NoError(t, err)
	f := collector.NewMockFetcher(&model.ValuationEstimate{
		Code: "000001", Name: "华夏成长混合",
		EstimatedNAV: decimal.RequireFromString("1.5"), ChangePercent: decimal.RequireFromString("1.35"),
	})
	fm := fund.NewManager(st, f, nil, nil, fund.Options{Location: time.UTC}, zerolog.Nop())

	ctx := context.Background()
	u, err := fm.CreateUser(ctx, "alice")
	require.NoError(t, err)
	h, err := model.NewHolding(u.ID, "000001", decimal.NewFromInt(9000), decimal.NewFromInt(10000))
	require.NoError(t, err)
	_, err = fm.AddHolding(ctx, h)
	require.NoError(t, err)

	return NewScheduler(ctx, fm, time.UTC, zerolog.Nop()), fm, u
}

func TestRegisterAll(t *testing.T) {
	s, _, _ := newScheduler(t)
	require.NoError(t, s.RegisterAll("@every 30s", "0 30 3 * * *", 30))
	assert.Len(t, s.Cron.Entries(), 2)

	s, _, _ = newScheduler(t)
	require.NoError(t, s.RegisterAll("@every 30s", "0 30 3 * * *", 0))
	assert.Len(t, s.Cron.Entries(), 1)

	assert.Error(t, s.RegisterAll("not a cron", "", 0))
}

func TestStartStop(t *testing.T) {
	s, _, _ := newScheduler(t)
	require.NoError(t, s.RegisterAll("@every 1h", "0 30 3 * * *", 0))
	s.Start()
	s.Stop()
}

func TestHandleCommand(t *testing.T) {
	s, _, _ := newScheduler(t)
	ctx := context.Background()

	assert.Contains(t, s.HandleCommand(ctx, "hello"), "可用命令")

	reply := s.HandleCommand(ctx, "/poll")
	assert.Contains(t, reply, "已刷新 1 个持仓")

	reply = s.HandleCommand(ctx, "查看持仓")
	assert.Contains(t, reply, "alice 的持仓")
	assert.Contains(t, reply, "华夏成长混合 (000001)")
	assert.Contains(t, reply, "总金额: ¥")
}

func TestHandleCommand_UnknownPortfolioUser(t *testing.T) {
	s, _, _ := newScheduler(t)
	s.PortfolioUser = "ghost"
	assert.Contains(t, s.HandleCommand(context.Background(), "/portfolio"), "读取用户失败")
}

func TestRunPollNow(t *testing.T) {
	s, fm, u := newScheduler(t)
	report, err := s.RunPollNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OK)

	_, hist, err := fm.History(context.Background(), u.ID, "")
	require.NoError(t, err)
	assert.Len(t, hist["000001"], 1)
}
