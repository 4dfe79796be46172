package schedule

import (
	"context"
	"time"

	"qms/clinic-queue/pkg/logging"

	"github.com/robfig/cron/v3"
)

const (
	SpecDailyOpen    = "0 0 * * *"
	SpecWeekdayOpen  = "20 13 * * 1-5"
	SpecSundayLookup = "0 7 * * 1"
)

// Runner is the set of state-machine operations driven by the clock.
type Runner interface {
	AutoOpenIfScheduled(ctx context.Context, now time.Time) (bool, error)
	RefreshSundayClinics(ctx context.Context, now time.Time) ([]string, error)
	CloseDay(ctx context.Context, now time.Time) (int, error)
}

type Options struct {
	Location  *time.Location
	ResetSpec string
	Timeout   time.Duration
	Logger    *logging.Logger
}

type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	loc     *time.Location
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

func NewScheduler(runner Runner, options Options) (*Scheduler, error) {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		runner:  runner,
		loc:     loc,
		timeout: timeout,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}

	if _, err := s.cron.AddFunc(SpecDailyOpen, s.autoOpen); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(SpecWeekdayOpen, s.autoOpen); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(SpecSundayLookup, s.refreshSundays); err != nil {
		return nil, err
	}
	if options.ResetSpec != "" {
		if _, err := s.cron.AddFunc(options.ResetSpec, s.closeDay); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) tick() time.Time {
	return s.now().In(s.loc).Truncate(time.Minute)
}

func (s *Scheduler) autoOpen() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	now := s.tick()
	opened, err := s.runner.AutoOpenIfScheduled(ctx, now)
	if err != nil {
		s.logger.Error("auto open failed", "error", err)
		return
	}
	s.logger.Info("auto open evaluated", "at", now.Format(time.RFC3339), "opened", opened)
}

func (s *Scheduler) refreshSundays() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	dates, err := s.runner.RefreshSundayClinics(ctx, s.tick())
	if err != nil {
		s.logger.Error("sunday clinic refresh failed", "error", err)
		return
	}
	s.logger.Info("sunday clinics refreshed", "dates", dates)
}

func (s *Scheduler) closeDay() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	archived, err := s.runner.CloseDay(ctx, s.tick())
	if err != nil {
		s.logger.Error("daily close failed", "error", err)
		return
	}
	s.logger.Info("daily close done", "archived", archived)
}
