package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs maintenance daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// Trigger is called on every tick of a schedule.
type Trigger func(ctx context.Context) error

// Scheduler fires a Trigger on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers trigger under spec, evaluated in loc.
func NewScheduler(ctx context.Context, spec string, loc *time.Location, trigger Trigger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	log := logger.Component(ctx, "maintenance")

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		if err := trigger(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled trigger failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("NewScheduler: invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running trigger to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
