package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/beacon/pkg/archive"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// dailyJob processes one UTC day
type dailyJob struct {
	name     string
	schedule string
	run      func(ctx context.Context, day time.Time) error
}

// scheduler runs daily jobs against the previous UTC day
type scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	now     func() time.Time
}

func newScheduler(logger *observability.Logger, metrics *observability.Metrics) *scheduler {
	return &scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger.WithComponent("scheduler"),
		metrics: metrics,
		timeout: 30 * time.Minute,
		now:     time.Now,
	}
}

// add schedules job. An empty schedule leaves the job disabled.
func (s *scheduler) add(ctx context.Context, job dailyJob) error {
	if job.schedule == "" {
		return nil
	}
	_, err := s.cron.AddFunc(job.schedule, func() { s.runJob(ctx, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s %q: %w", job.name, job.schedule, err)
	}
	s.logger.WithField("job", job.name).WithField("schedule", job.schedule).Info("Job scheduled")
	return nil
}

func archiveJob(exporter *archive.Exporter, schedule string) dailyJob {
	return dailyJob{name: "archive", schedule: schedule, run: func(ctx context.Context, day time.Time) error {
		_, err := exporter.ExportDay(ctx, day)
		return err
	}}
}

func (s *scheduler) runJob(ctx context.Context, job dailyJob) {
	defer observability.RecoverPanic(s.logger, job.name)

	day := s.now().UTC().AddDate(0, 0, -1)
	log := s.logger.WithField("job", job.name).WithField("date", day.Format(DateLayout))

	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.run(jobCtx, day)
	s.metrics.ObserveJob(job.name, start, err)
	if err != nil {
		log.WithError(err).Error("Job failed")
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Job completed")
}

func (s *scheduler) start() {
	s.cron.Start()
}

// stop waits for running jobs until ctx is done
func (s *scheduler) stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
