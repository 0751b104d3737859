package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"
)

// ErrSweeperRunning is returned when StartSweeper is called twice.
var ErrSweeperRunning = errors.New("registry sweeper already running")

// sweeper reaps stale records on a fixed interval.
type sweeper struct {
	registry *Registry

	mu        sync.Mutex
	scheduler quartz.Scheduler
	started   *atomic.Bool
	runs      *atomic.Int64
}

func newSweeper(r *Registry) *sweeper {
	return &sweeper{
		registry: r,
		started:  atomic.NewBool(false),
		runs:     atomic.NewInt64(0),
	}
}

// StartSweeper reaps stale records every interval until StopSweeper is called
// or ctx is done. Reads other than Active and Summary become eventually fresh.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = r.config.TTL / 2
	}
	return r.sweeper.start(ctx, interval)
}

// StopSweeper stops the scheduled sweep and waits for a running pass.
func (r *Registry) StopSweeper(ctx context.Context) {
	r.sweeper.stop(ctx)
}

func (s *sweeper) start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return ErrSweeperRunning
	}

	scheduler, err := quartz.NewStdScheduler(quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return fmt.Errorf("failed to create sweep scheduler: %w", err)
	}
	scheduler.Start(ctx)

	sweep := job.NewFunctionJob[bool](
		func(ctx context.Context) (bool, error) {
			s.runs.Inc()
			_, err := s.registry.ReapStale(ctx)
			if err != nil {
				s.registry.logger.Warn("registry sweep failed", "error", err)
			}
			return err == nil, err
		},
	)
	detail := quartz.NewJobDetail(sweep, quartz.NewJobKey("registry-sweep-"+uuid.NewString()))
	if err := scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(interval)); err != nil {
		scheduler.Stop()
		return fmt.Errorf("failed to schedule registry sweep: %w", err)
	}

	s.scheduler = scheduler
	s.started.Store(scheduler.IsStarted())
	s.registry.logger.Debug("registry sweeper started", "interval", interval)
	return nil
}

func (s *sweeper) stop(ctx context.Context) {
	if !s.started.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.scheduler.Clear()
	s.scheduler.Stop()
	s.started.Store(false)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.scheduler.Wait(ctx)
	s.scheduler = nil
	s.registry.logger.Debug("registry sweeper stopped")
}
