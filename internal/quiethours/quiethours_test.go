package quiethours

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(config.QuietHoursConfig{
		StartHour:       9,
		EndHour:         21,
		DefaultTimezone: "America/Denver",
	})
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestIsWithinWindow_Boundaries(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()
	la := mustLoad(t, "America/Los_Angeles")

	testCases := []struct {
		name  string
		local time.Time
		want  bool
	}{
		{"one minute before open", time.Date(2025, 6, 10, 8, 59, 0, 0, la), false},
		{"window opens", time.Date(2025, 6, 10, 9, 0, 0, 0, la), true},
		{"last allowed minute", time.Date(2025, 6, 10, 20, 59, 0, 0, la), true},
		{"window closes", time.Date(2025, 6, 10, 21, 0, 0, 0, la), false},
		{"middle of the night", time.Date(2025, 6, 10, 2, 30, 0, 0, la), false},
		{"midday", time.Date(2025, 6, 10, 13, 15, 0, 0, la), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.IsWithinWindow(ctx, "America/Los_Angeles", tc.local))
		})
	}
}

func TestIsWithinWindow_UsesRecipientZone(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()

	// 03:00 UTC is 22:00 the previous evening in Denver but 12:00 in Tokyo.
	at := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	assert.False(t, s.IsWithinWindow(ctx, "America/Denver", at))
	assert.True(t, s.IsWithinWindow(ctx, "Asia/Tokyo", at))
}

func TestIsWithinWindow_BadZonePermissive(t *testing.T) {
	s := NewScheduler(config.QuietHoursConfig{
		StartHour:       9,
		EndHour:         21,
		DefaultTimezone: "Not/AZone",
	})
	ctx := context.Background()

	// Both the recipient zone and the fallback are unresolvable; the gate
	// answers true rather than deferring the send forever.
	at := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	assert.True(t, s.IsWithinWindow(ctx, "Also/Bogus", at))
}

func TestIsWithinWindow_EmptyZoneFallsBackToDefault(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()

	// 04:00 UTC is 22:00 in Denver (summer), outside the window.
	at := time.Date(2025, 6, 11, 4, 0, 0, 0, time.UTC)
	assert.False(t, s.IsWithinWindow(ctx, "", at))
}

func TestNextWindowStart(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()
	la := mustLoad(t, "America/Los_Angeles")

	t.Run("inside window returns input unchanged", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 14, 30, 0, 0, la)
		assert.Equal(t, at, s.NextWindowStart(ctx, "America/Los_Angeles", at))
	})

	t.Run("before window returns same day's start", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 6, 45, 0, 0, la)
		want := time.Date(2025, 6, 10, 9, 0, 0, 0, la)
		assert.True(t, want.Equal(s.NextWindowStart(ctx, "America/Los_Angeles", at)))
	})

	t.Run("after window returns next day's start", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 22, 10, 0, 0, la)
		want := time.Date(2025, 6, 11, 9, 0, 0, 0, la)
		assert.True(t, want.Equal(s.NextWindowStart(ctx, "America/Los_Angeles", at)))
	})

	t.Run("exactly at window end rolls to next day", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 21, 0, 0, 0, la)
		want := time.Date(2025, 6, 11, 9, 0, 0, 0, la)
		assert.True(t, want.Equal(s.NextWindowStart(ctx, "America/Los_Angeles", at)))
	})

	t.Run("spring forward still lands on 09:00 local", func(t *testing.T) {
		// 2025-03-09 02:00 does not exist in Los Angeles; a send deferred
		// from the small hours must still resume at 09:00 local.
		at := time.Date(2025, 3, 9, 1, 30, 0, 0, la)
		got := s.NextWindowStart(ctx, "America/Los_Angeles", at)
		assert.Equal(t, 9, got.In(la).Hour())
		assert.Equal(t, 9, got.In(la).Day())
	})

	t.Run("bad zone returns input unchanged", func(t *testing.T) {
		s := NewScheduler(config.QuietHoursConfig{StartHour: 9, EndHour: 21, DefaultTimezone: "Nope/Nope"})
		at := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, at, s.NextWindowStart(ctx, "Bad/Zone", at))
	})
}
