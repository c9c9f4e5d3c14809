// Package scheduler runs the alert evaluators on their own cadences
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// Scheduler starts each registered check after its startup delay, then every
// interval. A check still running when its next tick arrives is skipped, and all
// checks share one Cooldown gate.
type Scheduler struct {
	cron   *cron.Cron
	chain  cron.Chain
	gate   *Cooldown
	checks []alerts.Check
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

func New(cooldown time.Duration) *Scheduler {
	log := observ.Component("scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:  cron.New(cron.WithLogger(cl)),
		chain: cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		gate:  NewCooldown(cooldown),
		sleep: sleepCtx,
		log:   log,
	}
}

// Register adds a check. Checks with a non-positive interval are ignored.
func (s *Scheduler) Register(checks ...alerts.Check) {
	for _, c := range checks {
		if c.Schedule.Interval() <= 0 {
			s.log.Warn().Str("kind", string(c.Kind)).Msg("check has no interval, not scheduled")
			continue
		}
		s.checks = append(s.checks, c)
	}
}

// Start launches every registered check. Jobs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, c := range s.checks {
		spec := fmt.Sprintf("@every %s", c.Schedule.Interval())
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s: %w", c.Kind, err)
		}
		job := s.chain.Then(s.job(ctx, c))

		s.wg.Add(1)
		go func(c alerts.Check) {
			defer s.wg.Done()
			if delay := c.Schedule.StartupDelay(); delay > 0 {
				if s.sleep(ctx, delay) != nil {
					return
				}
			}
			s.cron.Schedule(schedule, job)
			job.Run()
		}(c)

		s.log.Info().
			Str("kind", string(c.Kind)).
			Str("schedule", spec).
			Dur("startup_delay", c.Schedule.StartupDelay()).
			Msg("Job registered")
	}
	s.cron.Start()
	s.started = true
	s.log.Info().Int("jobs", len(s.checks)).Msg("Scheduler started")
	return nil
}

// Stop cancels running checks and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info().Msg("Scheduler stopped")
}

// Gate exposes the shared cooldown
func (s *Scheduler) Gate() *Cooldown { return s.gate }

func (s *Scheduler) job(ctx context.Context, c alerts.Check) cron.Job {
	return cron.FuncJob(func() {
		if err := s.gate.Acquire(ctx); err != nil {
			return
		}
		defer s.gate.Release()

		start := time.Now()
		res, err := c.Run(ctx)
		labels := map[string]string{"kind": string(c.Kind), "outcome": "success"}
		if err != nil {
			labels["outcome"] = "error"
			if ctx.Err() == nil {
				s.log.Error().Err(err).Str("kind", string(c.Kind)).Msg("Job failed")
			}
		} else {
			s.log.Info().
				Str("kind", string(c.Kind)).
				Int("checked", res.Checked).
				Int("sent", res.Sent).
				Int("skipped", res.Skipped).
				Int("failed", res.Failed).
				Dur("duration", time.Since(start)).
				Msg("Job completed")
		}
		observ.IncCounter("scheduler_runs_total", labels)
		observ.RecordDuration("scheduler_run_duration", time.Since(start), map[string]string{"kind": string(c.Kind)})
		observ.SetGauge("scheduler_last_run_unix", float64(time.Now().Unix()), map[string]string{"kind": string(c.Kind)})
	})
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
