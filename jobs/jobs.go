// Package jobs runs the background schedules of the service.
package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReservationSweeper expires stale stock reservations.
type ReservationSweeper interface {
	ExpireReservations(ctx context.Context, now time.Time) (int, error)
}

// JobServer owns the cron scheduler.
type JobServer struct {
	cron    *cron.Cron
	sweeper ReservationSweeper
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewJobServer schedules the reservation sweep. A run still in progress
// makes the next one skip.
func NewJobServer(schedule string, sweeper ReservationSweeper, logger logrus.FieldLogger) (*JobServer, error) {
	cronLog := cron.PrintfLogger(logger)
	j := &JobServer{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		sweeper: sweeper,
		logger:  logger.WithField("component", "jobs"),
		now:     time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.SweepReservations(context.Background()) }); err != nil {
		return nil, errors.Wrapf(err, "schedule %q", schedule)
	}
	return j, nil
}

func (j *JobServer) Start() {
	j.cron.Start()
	j.logger.Info("JobServer started")
}

// Stop waits for running jobs or for ctx to end.
func (j *JobServer) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// SweepReservations runs one expiry pass.
func (j *JobServer) SweepReservations(ctx context.Context) {
	n, err := j.sweeper.ExpireReservations(ctx, j.now().UTC())
	if err != nil {
		j.logger.WithError(err).Error("reservation sweep failed")
		return
	}
	if n > 0 {
		j.logger.WithField("expired", n).Info("reservations expired")
	}
}
