package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/logger"
)

// Janitor runs CleanOldCache on a fixed interval so expired entries do not
// wait for a quota error to be evicted.
type Janitor struct {
	engine    *Engine
	scheduler gocron.Scheduler
	job       gocron.Job
	interval  time.Duration
	log       *logger.CtxZapLogger
}

// NewJanitor schedules the sweep; call Start to begin. clock may be nil.
func NewJanitor(e *Engine, interval time.Duration, clock clockwork.Clock) (*Janitor, error) {
	if interval <= 0 {
		return nil, ErrConfigInvalid.WithMsgf("sweep interval must be positive, got %s", interval)
	}
	opts := []gocron.SchedulerOption{gocron.WithLogger(gocronLogger{log: e.log})}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, ErrConfigInvalid.Wrap(err)
	}

	j := &Janitor{engine: e, scheduler: s, interval: interval, log: e.log}
	j.job, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.sweep),
		gocron.WithName("habitcache-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, ErrConfigInvalid.Wrap(err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.scheduler.Start()
	j.log.Info("cache janitor started", zap.Duration("interval", j.interval))
}

// RunNow triggers a sweep outside the schedule.
func (j *Janitor) RunNow() error {
	return j.job.RunNow()
}

func (j *Janitor) NextRun() (time.Time, error) {
	return j.job.NextRun()
}

func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) sweep() {
	if j.engine.closed.Load() {
		return
	}
	n := j.engine.Sweep(context.Background())
	j.log.Debug("cache sweep finished", zap.Int("cleaned", n))
}

// gocronLogger adapts a CtxZapLogger to gocron's key/value logger.
type gocronLogger struct {
	log *logger.CtxZapLogger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, kvFields(args)...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info(msg, kvFields(args)...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, kvFields(args)...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, kvFields(args)...) }

func kvFields(args []any) []zap.Field {
	fields := make([]zap.Field, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 == len(args) {
			fields = append(fields, zap.Any("extra", args[i]))
			break
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}
