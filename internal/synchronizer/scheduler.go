package synchronizer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

// Scheduler periodically enqueues a full reload of every tracked address.
// It is the polling half of reconciliation; events are the other.
type Scheduler struct {
	cron *cron.Cron
	sync *Synchronizer
	log  *logger.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as "@every 1m") and binds it to s.
func NewScheduler(s *Synchronizer, spec string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log})))
	sc := &Scheduler{cron: c, sync: s, log: log}
	if _, err := c.AddFunc(spec, sc.tick); err != nil {
		return nil, fmt.Errorf("parse reload schedule %q: %w", spec, err)
	}
	return sc, nil
}

func (sc *Scheduler) tick() {
	sc.log.Debug("scheduled reload")
	sc.sync.ReloadTracked()
}

// Start begins firing in the background.
func (sc *Scheduler) Start() {
	sc.cron.Start()
}

// Stop stops firing and waits for a running tick, or for ctx.
func (sc *Scheduler) Stop(ctx context.Context) {
	done := sc.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.WithField("kv", kv).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.WithError(err).WithField("kv", kv).Error(msg)
}
