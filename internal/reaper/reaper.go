// Package reaper removes ended sessions from the registry on a cron
// schedule so the in-memory fleet view does not grow without bound.
// Archived run summaries are untouched.
package reaper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kmajdoub/botfleet/internal/registry"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Hub is the log fan-out surface the reaper clears for removed sessions.
type Hub interface {
	DropSession(sessionID string)
}

// Reaper sweeps terminal sessions older than the retention window.
type Reaper struct {
	reg       *registry.Registry
	hub       Hub
	schedule  cron.Schedule
	retention time.Duration
	now       func() time.Time // test hook
}

// New creates a Reaper. schedule is a 5-field cron expression;
// retention is how long an ended session stays visible before removal.
func New(reg *registry.Registry, hub Hub, schedule string, retention time.Duration) (*Reaper, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("reaper: retention must be positive")
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("reaper: parse schedule %q: %w", schedule, err)
	}
	return &Reaper{
		reg:       reg,
		hub:       hub,
		schedule:  sched,
		retention: retention,
		now:       time.Now,
	}, nil
}

// Run sweeps on the cron schedule until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n := r.Sweep(); n > 0 {
				log.Printf("reaper: removed %d ended sessions", n)
			}
		}
	}
}

// Sweep removes every terminal session whose end time is older than the
// retention window and returns how many were removed.
func (r *Reaper) Sweep() int {
	cutoff := r.now().Add(-r.retention)
	removed := 0
	for _, sess := range r.reg.List(registry.Filter{}) {
		if !sess.Status.Terminal() {
			continue
		}
		if sess.EndedAt.IsZero() || sess.EndedAt.After(cutoff) {
			continue
		}
		if err := r.reg.Remove(sess.ID); err != nil {
			log.Printf("reaper: remove %s: %v", sess.ID, err)
			continue
		}
		if r.hub != nil {
			r.hub.DropSession(sess.ID)
		}
		removed++
	}
	return removed
}
