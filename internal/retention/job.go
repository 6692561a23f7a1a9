// Package retention periodically deletes conversations that have not been
// touched within the retention window.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/falaai/server/internal/metrics"
	logx "github.com/falaai/server/pkg/logger"
)

type Config struct {
	Window       time.Duration `envconfig:"RETENTION_WINDOW" default:"72h"`
	Schedule     string        `envconfig:"RETENTION_SCHEDULE" default:"@every 24h"`
	StartupDelay time.Duration `envconfig:"RETENTION_STARTUP_DELAY" default:"20s"`
	Timeout      time.Duration `envconfig:"RETENTION_TIMEOUT" default:"5m"`
}

type Deleter interface {
	DeleteStaleConversations(ctx context.Context, cutoff time.Time) (messages, conversations int64, err error)
}

type Job struct {
	cfg     Config
	store   Deleter
	metrics *metrics.Metrics
	now     func() time.Time

	cron    *cron.Cron
	startMu sync.Mutex
	delay   *time.Timer
	stopped bool
	running sync.WaitGroup
}

func NewJob(cfg Config, store Deleter, m *metrics.Metrics) *Job {
	if cfg.Window <= 0 {
		cfg.Window = 72 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Job{cfg: cfg, store: store, metrics: m, now: time.Now}
}

// RunOnce deletes everything last updated before now minus the window.
func (j *Job) RunOnce(ctx context.Context) (messages, conversations int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	cutoff := j.now().Add(-j.cfg.Window)
	messages, conversations, err = j.store.DeleteStaleConversations(ctx, cutoff)
	j.metrics.ObserveRetention(messages, conversations, err)
	if err != nil {
		logx.Error().Err(err).Time("cutoff", cutoff).Msg("retention cleanup failed")
		return 0, 0, err
	}
	logx.Info().
		Time("cutoff", cutoff).
		Int64("messages_deleted", messages).
		Int64("conversations_deleted", conversations).
		Msg("retention cleanup finished")
	return messages, conversations, nil
}

// begin registers a run unless Stop has been called, so Stop never waits on
// a WaitGroup that can still grow.
func (j *Job) begin() bool {
	j.startMu.Lock()
	defer j.startMu.Unlock()
	if j.stopped {
		return false
	}
	j.running.Add(1)
	return true
}

func (j *Job) run() {
	if !j.begin() {
		logx.Debug().Msg("retention run skipped, job stopped")
		return
	}
	defer j.running.Done()
	if _, _, err := j.RunOnce(context.Background()); err != nil {
		logx.Warn().Err(err).Msg("scheduled retention run failed, retrying on next tick")
	}
}

// Start schedules the cleanup and fires one run after the startup delay.
func (j *Job) Start() error {
	j.startMu.Lock()
	defer j.startMu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("retention job already started")
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(j.cfg.Schedule, j.run); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.cfg.Schedule, err)
	}
	c.Start()
	j.cron = c
	j.stopped = false

	if j.cfg.StartupDelay >= 0 {
		j.delay = time.AfterFunc(j.cfg.StartupDelay, j.run)
	}
	logx.Info().Str("schedule", j.cfg.Schedule).Dur("startup_delay", j.cfg.StartupDelay).
		Dur("window", j.cfg.Window).Msg("retention job scheduled")
	return nil
}

// Stop halts scheduling and waits for a running cleanup, bounded by ctx.
func (j *Job) Stop(ctx context.Context) error {
	j.startMu.Lock()
	c, delay := j.cron, j.delay
	j.cron, j.delay = nil, nil
	j.stopped = true
	j.startMu.Unlock()

	if delay != nil {
		delay.Stop()
	}
	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		j.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging through logx.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logx.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logx.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
