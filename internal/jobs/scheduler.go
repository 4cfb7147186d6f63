package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/wecodeblooded/safety-engine/internal/services"
)

// Scheduler owns the cron-driven jobs: the inactivity sweep and the scheduled
// delivery-worker runs. The dislocation sweep keeps its own ticker because its
// interval is sub-minute.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler wires the scheduled jobs. Panics inside a job are recovered so
// one bad run cannot kill the schedule.
func NewScheduler(lifecycle *services.LifecycleService, worker *DeliveryWorker) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc("@every 1m", lifecycle.InactivitySweep); err != nil {
		return nil, fmt.Errorf("failed to schedule inactivity sweep: %w", err)
	}
	if _, err := c.AddFunc("@every 1m", func() {
		if _, err := worker.Run(context.Background()); err != nil {
			log.Printf("Scheduled delivery run failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule delivery worker: %w", err)
	}

	return &Scheduler{cron: c}, nil
}

// Start begins the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
