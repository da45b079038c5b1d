package core

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a 5-field cron expression and returns its schedule
// evaluated in loc. A nil loc means local time.
func ParseCron(expr string, loc *time.Location) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if loc != nil {
		if spec, ok := schedule.(*cron.SpecSchedule); ok {
			spec.Location = loc
		}
	}
	return schedule, nil
}

// NextFire computes the next instant at or after base matching expr in the
// named timezone. An empty timezone means local time.
func NextFire(expr, timezone string, base time.Time) (time.Time, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	schedule, err := ParseCron(expr, loc)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(base.In(loc)), nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}

// JitterDelay draws a uniformly random delay in [0, maxMinutes) minutes.
// Each firing draws independently so consecutive firings are uncorrelated.
func JitterDelay(maxMinutes int, r *rand.Rand) time.Duration {
	if maxMinutes <= 0 {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxMinutes) * int64(time.Minute)))
}
