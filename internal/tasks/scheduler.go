package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/robfig/cron/v3"
)

// DefaultSyncInterval is used when the scheduler is started with a non-positive interval.
const DefaultSyncInterval = time.Minute

// Pusher runs a push pass.
type Pusher interface {
	PushAll(ctx context.Context) PushResult
}

// Scheduler runs periodic push passes while online and an immediate pass whenever connectivity returns.
type Scheduler struct {
	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// StartScheduler starts the periodic push job and the connectivity listener.
//
// [Scheduler.Stop] (or cancelling ctx) stops both.
func StartScheduler(ctx context.Context, engine Pusher, conn Connectivity, interval time.Duration, logger *log.Logger) *Scheduler {
	if conn == nil {
		conn = alwaysOnline{}
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	logger = shared.WithLogger(logger, "component", "scheduler")
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}

	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if !conn.Online() {
			logger.Debug("offline; scheduled push skipped")
			return
		}
		engine.PushAll(ctx)
	}))
	s.cron.Start()

	updates, unsubscribe := conn.Subscribe()
	go func() {
		defer close(s.done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case online, ok := <-updates:
				if !ok {
					return
				}
				if online {
					logger.Info("back online; pushing pending progress")
					engine.PushAll(ctx)
				}
			}
		}
	}()

	logger.Info("scheduler started", "interval", interval)
	return s
}

// Stop cancels the periodic job and the connectivity listener and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.cron.Stop().Done()
		<-s.done
		s.logger.Info("scheduler stopped")
	})
}

// cronLogger adapts the charm logger to [cron.Logger].
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
