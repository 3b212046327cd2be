package retention

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/models"
)

// Scheduler runs SweepAll periodically on a cron schedule
type Scheduler struct {
	sweeper *Sweeper
	cron    *cron.Cron
	baseDir string
	keep    int
	logger  arbor.ILogger
}

// NewScheduler creates a scheduler for baseDir
func NewScheduler(sweeper *Sweeper, baseDir string, keep int, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		cron:    cron.New(),
		baseDir: baseDir,
		keep:    keep,
		logger:  logger,
	}
}

// Start begins the scheduled sweeps. Schedule uses the standard five-field syntax
// or a descriptor such as "@hourly".
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.RunNow()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Str("base_dir", s.baseDir).
		Int("keep", s.keep).
		Msg("Retention scheduler started")

	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention scheduler stopped")
}

// RunNow performs one SweepAll synchronously
func (s *Scheduler) RunNow() *models.SweepResult {
	started := time.Now()
	result, err := s.sweeper.SweepAll(s.baseDir, s.keep)
	if err != nil {
		s.logger.Error().Err(err).Str("base_dir", s.baseDir).Msg("Scheduled retention sweep failed")
		return nil
	}

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("failed", len(result.Failed)).
		Int64("bytes_freed", result.BytesFreed).
		Dur("duration", time.Since(started)).
		Msg("Scheduled retention sweep complete")
	return result
}
