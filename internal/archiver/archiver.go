// Package archiver periodically archives sessions whose dates have passed.
package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"dossierline/internal/config"
	"dossierline/internal/metrics"
)

const actorID = "archiver"

// Runner is the engine operation the archiver drives.
type Runner interface {
	ArchiveExpired(ctx context.Context, now time.Time, graceDays int, actorID string) ([]string, error)
}

type Archiver struct {
	runner    Runner
	graceDays int
	cron      *cron.Cron
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(r Runner, cfg config.ArchiveConfig, log logrus.FieldLogger, m *metrics.Metrics) (*Archiver, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Archiver{
		runner:    r,
		graceDays: cfg.GraceDays,
		log:       log.WithField("component", "archiver"),
		metrics:   m,
		now:       time.Now,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
	}
	if _, err := a.cron.AddFunc(cfg.Schedule, func() { _, _ = a.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("archive schedule %q: %w", cfg.Schedule, err)
	}
	return a, nil
}

// RunOnce archives every expired session now and returns how many were archived.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	ids, err := a.runner.ArchiveExpired(ctx, a.now(), a.graceDays, actorID)
	a.metrics.ArchiverRun(len(ids), err)
	if err != nil {
		a.log.WithError(err).Error("auto-archive failed")
		return 0, err
	}
	if len(ids) > 0 {
		a.log.WithFields(logrus.Fields{"count": len(ids), "sessions": ids}).Info("sessions archived")
	}
	return len(ids), nil
}

func (a *Archiver) Start() {
	a.cron.Start()
	a.log.WithField("grace_days", a.graceDays).Info("archiver started")
}

// Stop waits for a running job to finish or ctx to expire.
func (a *Archiver) Stop(ctx context.Context) {
	done := a.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
