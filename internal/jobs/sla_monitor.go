package jobs

import (
	"context"
	"log"
	"time"

	"github.com/slaguard/slaguard/internal/handlers"
	"github.com/slaguard/slaguard/internal/services"
)

// SLAMonitor runs the recurring detection and escalation cycle. Each tick
// sweeps open items for breaches, then fires any escalation schedules that
// have come due. Both passes are idempotent, so a missed or doubled tick
// never corrupts state.
type SLAMonitor struct {
	detector *services.Detector
	engine   *services.EscalationEngine
	hub      *handlers.EventsHub
}

// NewSLAMonitor creates a new SLA monitor. hub may be nil when no live
// feed is wired.
func NewSLAMonitor(detector *services.Detector, engine *services.EscalationEngine, hub *handlers.EventsHub) *SLAMonitor {
	return &SLAMonitor{detector: detector, engine: engine, hub: hub}
}

// RunOnce executes one detection-and-escalation cycle.
func (m *SLAMonitor) RunOnce(ctx context.Context) (services.SweepSummary, services.FireSummary, error) {
	sweep, err := m.detector.Sweep()
	if err != nil {
		return sweep, services.FireSummary{}, err
	}
	if m.hub != nil {
		m.hub.Broadcast(handlers.EventSweepCompleted, sweep)
		if sweep.NewBreaches > 0 {
			m.hub.Broadcast(handlers.EventBreachesDetected, sweep)
		}
	}

	fired, err := m.engine.FireDue(ctx)
	if err != nil {
		return sweep, fired, err
	}
	if m.hub != nil && fired.Delivered > 0 {
		m.hub.Broadcast(handlers.EventEscalationsFired, fired)
	}

	return sweep, fired, nil
}

// Start begins the periodic monitoring
func (m *SLAMonitor) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep, fired, err := m.RunOnce(context.Background())
			if err != nil {
				log.Printf("SLA monitor error: %v", err)
				continue
			}
			if sweep.NewBreaches > 0 || fired.Delivered > 0 || fired.Failed > 0 {
				log.Printf("SLA monitor: %d checked, %d new breaches, %d escalations fired, %d failed",
					sweep.Checked, sweep.NewBreaches, fired.Delivered, fired.Failed)
			}
		case <-stop:
			log.Println("SLA monitor stopped")
			return
		}
	}
}
