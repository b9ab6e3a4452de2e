package chrono

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"samezu-bot/lib/timezone"

	"github.com/robfig/cron/v3"
)

// CronAPI is what anything that needs to run on a schedule depends on.
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron runs jobs with github.com/robfig/cron/v3 in JST. A job
// that is still running when its next tick arrives skips that tick.
type StandardCron struct {
	cron *cron.Cron
}

func NewStandardCron() StandardCron {
	logger := cronLogger{logger: slog.Default().With("component", "cron")}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(timezone.Location),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// Stop prevents new runs, the returned context is done once running
// jobs have returned.
func (s StandardCron) Stop() context.Context {
	return s.cron.Stop()
}

// Every is the cron spec for a fixed interval.
func Every(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(fmt.Sprintf("cron: %s", msg), append(keysAndValues, "err", err)...)
}
