package core

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronValid(t *testing.T) {
	schedule, err := ParseCron("0 8 * * *", time.UTC)
	require.NoError(t, err)

	base := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	next := schedule.Next(base)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), next)
}

func TestParseCronRejectsDescriptors(t *testing.T) {
	_, err := ParseCron("@hourly", time.UTC)
	assert.Error(t, err)
}

func TestParseCronInvalid(t *testing.T) {
	_, err := ParseCron("61 * * * *", time.UTC)
	assert.Error(t, err)

	_, err = ParseCron("* * *", time.UTC)
	assert.Error(t, err)
}

func TestNextFireTimezone(t *testing.T) {
	// 08:00 in Shanghai is 00:00 UTC.
	base := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	next, err := NextFire("0 8 * * *", "Asia/Shanghai", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextFireBadTimezone(t *testing.T) {
	_, err := NextFire("0 8 * * *", "Mars/Olympus", time.Now())
	assert.Error(t, err)
}

func TestNextOccurrences(t *testing.T) {
	schedule, err := ParseCron("*/15 * * * *", time.UTC)
	require.NoError(t, err)

	base := time.Date(2025, 3, 10, 12, 1, 0, 0, time.UTC)
	times := NextOccurrences(schedule, base, 3)
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 15, 0, 0, time.UTC), times[0])
	assert.Equal(t, time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC), times[1])
	assert.Equal(t, time.Date(2025, 3, 10, 12, 45, 0, 0, time.UTC), times[2])
}

func TestJitterDelayBounds(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		d := JitterDelay(10, r)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Minute)
	}
}

func TestJitterDelayZero(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	assert.Equal(t, time.Duration(0), JitterDelay(0, r))
	assert.Equal(t, time.Duration(0), JitterDelay(-5, r))
}

func TestJitterDelayIndependentDraws(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		seen[JitterDelay(60, r)] = true
	}
	// 100 draws over an hour-wide range should essentially never collide.
	assert.Greater(t, len(seen), 90)
}
