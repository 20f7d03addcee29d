package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Window(t *testing.T) {
	s := Schedule{Hour: 9, Minute: 0, Location: time.UTC}

	before := time.Date(2026, 10, 14, 8, 59, 59, 0, time.UTC)
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	after := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC), s.WindowStart(before))
	assert.Equal(t, at, s.WindowStart(at))
	assert.Equal(t, at, s.WindowStart(after))

	assert.Equal(t, at, s.NextReset(before))
	assert.Equal(t, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), s.NextReset(at))

	assert.Equal(t, "2026-10-14T09:00:00Z", s.WindowKey(after))
	assert.NotEqual(t, s.WindowKey(before), s.WindowKey(at))
}

func TestSchedule_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s := Schedule{Hour: 9, Minute: 30, Location: loc}

	// 13:00 UTC is 09:00 EDT, still before the 09:30 reset
	now := time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 31, 9, 30, 0, 0, loc).Unix(), s.WindowStart(now).Unix())
	assert.Equal(t, time.Date(2026, 6, 1, 9, 30, 0, 0, loc).Unix(), s.NextReset(now).Unix())

	// Across the November DST change the reset stays at 09:30 wall clock
	fall := time.Date(2026, 10, 31, 15, 0, 0, 0, loc)
	next := s.NextReset(fall)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.Equal(t, 11, int(next.Month()))
	assert.Equal(t, 1, next.Day())
}
