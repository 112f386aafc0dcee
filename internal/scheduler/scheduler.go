package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"FundTracker/internal/fund"
	"FundTracker/internal/notifier"
)

// Scheduler runs the poll loop and housekeeping on cron, and answers chat commands.
type Scheduler struct {
	Cron *cron.Cron
	Fund *fund.Manager
	Ctx  context.Context
	log  zerolog.Logger

	// PortfolioUser is whose holdings /portfolio shows; the first user when empty.
	PortfolioUser string

	pollMu sync.Mutex
}

// NewScheduler creates a new Scheduler. Cron specs carry a seconds field and
// are evaluated in loc.
func NewScheduler(ctx context.Context, fm *fund.Manager, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Fund: fm,
		Ctx:  ctx,
		log:  log,
	}
}

// RegisterAll registers the poll loop and, when retentionDays > 0, the history purge.
func (s *Scheduler) RegisterAll(pollCron, purgeCron string, retentionDays int) error {
	if _, err := s.Cron.AddFunc(pollCron, s.pollTask); err != nil {
		return fmt.Errorf("register poll task: %w", err)
	}
	if retentionDays > 0 {
		if _, err := s.Cron.AddFunc(purgeCron, func() { s.purgeTask(retentionDays) }); err != nil {
			return fmt.Errorf("register purge task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunPollNow polls every holding immediately (manual trigger / run_on_start).
// Calls are serialized with each other and with the cron tick.
func (s *Scheduler) RunPollNow(ctx context.Context) (fund.PollReport, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.Fund.PollAll(ctx)
}

func (s *Scheduler) pollTask() {
	if !s.pollMu.TryLock() {
		s.log.Debug().Msg("manual poll running, skipping tick")
		return
	}
	defer s.pollMu.Unlock()
	if _, err := s.Fund.PollAll(s.Ctx); err != nil {
		s.log.Error().Err(err).Msg("poll failed")
	}
}

func (s *Scheduler) purgeTask(retentionDays int) {
	if _, err := s.Fund.PurgeHistory(s.Ctx, retentionDays); err != nil {
		s.log.Error().Err(err).Msg("purge history failed")
	}
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "查看持仓", "/portfolio":
		return s.portfolioReply(ctx)
	case "立即刷新", "/poll":
		report, err := s.RunPollNow(ctx)
		if err != nil {
			return fmt.Sprintf("❌ 刷新失败: %v", err)
		}
		return notifier.FormatPoll(report.Holdings, report.OK, report.Failed, len(report.Settled))
	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) portfolioReply(ctx context.Context) string {
	userID := s.PortfolioUser
	if userID == "" {
		users, err := s.Fund.ListUsers(ctx)
		if err != nil {
			return fmt.Sprintf("❌ 读取用户失败: %v", err)
		}
		if len(users) == 0 {
			return "暂无用户"
		}
		userID = users[0].ID
	}
	u, err := s.Fund.User(ctx, userID)
	if err != nil {
		return fmt.Sprintf("❌ 读取用户失败: %v", err)
	}
	sum, err := s.Fund.Portfolio(ctx, userID)
	if err != nil {
		return fmt.Sprintf("❌ 读取持仓失败: %v", err)
	}
	return notifier.FormatPortfolio(u.Name, sum, s.Fund.Now())
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
