package jobs

import (
	"context"
	"log"
	"time"

	"github.com/wecodeblooded/safety-engine/internal/services"
)

// DislocationSweep runs the group dislocation check on a fixed interval.
type DislocationSweep struct {
	svc *services.DislocationService
}

// NewDislocationSweep creates the sweep job.
func NewDislocationSweep(svc *services.DislocationService) *DislocationSweep {
	return &DislocationSweep{svc: svc}
}

// Start begins the periodic sweep. Each tick is independent; a failed tick
// never stops the next one.
func (j *DislocationSweep) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.svc.Sweep(context.Background())
		case <-stop:
			log.Println("Dislocation sweep stopped")
			return
		}
	}
}
