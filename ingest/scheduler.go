package ingest

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"rssagg/models"
)

// Sweeper runs a sweep over all enabled sources
type Sweeper interface {
	RunScheduledSweep(ctx context.Context) (models.BatchResult, error)
}

// Scheduler runs the scheduled sweep on a fixed interval until its context ends
type Scheduler struct {
	sweeper    Sweeper
	interval   time.Duration
	runOnStart bool
}

func NewScheduler(sweeper Sweeper, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{sweeper: sweeper, interval: interval, runOnStart: runOnStart}
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"interval":     s.interval,
		"run_on_start": s.runOnStart,
	}).Info("Starting refresh scheduler")

	if s.runOnStart {
		s.Tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Refresh scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled sweep and logs its result
func (s *Scheduler) Tick(ctx context.Context) models.BatchResult {
	result, err := s.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Scheduled sweep failed")
	}
	return result
}
