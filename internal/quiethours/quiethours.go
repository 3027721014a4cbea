// Package quiethours decides whether a wall-clock instant falls inside the
// local-time window during which SMS sends are permitted, and computes the
// next permitted instant when it does not. Email is never subject to this
// gate.
package quiethours

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// Scheduler evaluates the quiet-hours window. StartHour is inclusive,
// EndHour exclusive: with the 9/21 defaults, 09:00 local is allowed and
// 21:00 local is not.
type Scheduler struct {
	startHour       int
	endHour         int
	defaultTimezone string
}

// NewScheduler builds a scheduler from config.
func NewScheduler(cfg config.QuietHoursConfig) *Scheduler {
	return &Scheduler{
		startHour:       cfg.StartHour,
		endHour:         cfg.EndHour,
		defaultTimezone: cfg.DefaultTimezone,
	}
}

// resolveLocation loads the IANA zone, falling back to the configured default
// and finally UTC. A resolution failure is logged but never blocks: the gate
// is deliberately permissive on bad timezone data so sends are not deferred
// forever.
func (s *Scheduler) resolveLocation(ctx context.Context, timezone string) (*time.Location, bool) {
	if timezone == "" {
		timezone = s.defaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err == nil {
		return loc, true
	}
	logger.FromContext(ctx).Warn("Failed to resolve timezone, allowing send",
		zap.String("timezone", timezone), zap.Error(err))
	if timezone != s.defaultTimezone {
		if loc, err = time.LoadLocation(s.defaultTimezone); err == nil {
			return loc, true
		}
	}
	return time.UTC, false
}

// IsWithinWindow reports whether at falls inside the sending window in the
// given timezone. Timezone resolution failures answer true.
func (s *Scheduler) IsWithinWindow(ctx context.Context, timezone string, at time.Time) bool {
	loc, ok := s.resolveLocation(ctx, timezone)
	if !ok {
		return true
	}
	hour := at.In(loc).Hour()
	return hour >= s.startHour && hour < s.endHour
}

// NextWindowStart returns the earliest instant at or after at that falls
// inside the window. Inside the window it returns at unchanged; before the
// window it returns the same day's window start; at or after the window end
// it returns the next day's window start. Timezone resolution failures
// return at unchanged.
func (s *Scheduler) NextWindowStart(ctx context.Context, timezone string, at time.Time) time.Time {
	loc, ok := s.resolveLocation(ctx, timezone)
	if !ok {
		return at
	}

	local := at.In(loc)
	hour := local.Hour()
	if hour >= s.startHour && hour < s.endHour {
		return at
	}

	day := local
	if hour >= s.endHour {
		day = day.AddDate(0, 0, 1)
	}
	// time.Date normalizes through DST transitions for us.
	next := time.Date(day.Year(), day.Month(), day.Day(), s.startHour, 0, 0, 0, loc)
	return next
}
