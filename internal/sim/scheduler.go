package sim

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler advances the simulation on a cron schedule, so a run can unfold
// in real time instead of being stepped manually over the API.
type Scheduler struct {
	cron   *cron.Cron
	driver *Driver
	log    zerolog.Logger
}

// NewScheduler registers the step job on the given cron schedule
func NewScheduler(schedule string, driver *Driver, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		driver: driver,
		log:    log.With().Str("component", "scheduler").Logger(),
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if s.driver.Done() {
			return
		}
		if err := s.driver.StepDay(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("Scheduled step failed")
		}
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("schedule", schedule).Msg("Step job registered")
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a running step to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
