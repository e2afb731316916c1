package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// jitterFraction bounds the random delay added to each tick so sources
// sharing an interval do not herd.
const jitterFraction = 0.10

// Schedule describes when a source is polled: a fixed interval or a cron
// expression, never both
type Schedule struct {
	Interval time.Duration
	Cron     cron.Schedule
}

// ParseSchedule builds a Schedule from a module's source configuration.
// interval accepts duration strings (5m, 1h); schedule accepts standard
// five-field cron expressions.
func ParseSchedule(interval, schedule string) (Schedule, error) {
	if schedule != "" {
		if interval != "" {
			return Schedule{}, fmt.Errorf("interval and schedule are mutually exclusive")
		}
		spec, err := cron.ParseStandard(schedule)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
		}
		return Schedule{Cron: spec}, nil
	}

	if interval == "" {
		return Schedule{}, fmt.Errorf("source requires an interval or a schedule")
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", interval, err)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be positive, got %s", d)
	}
	return Schedule{Interval: d}, nil
}

// Next returns the next fire time after now, with jitter applied
func (s Schedule) Next(now time.Time) time.Time {
	if s.Cron != nil {
		next := s.Cron.Next(now)
		gap := next.Sub(now)
		return next.Add(jitter(gap))
	}
	return now.Add(s.Interval + jitter(s.Interval))
}

// Period returns the nominal cadence used for overrun detection. Cron
// schedules report the gap to the next fire.
func (s Schedule) Period(now time.Time) time.Duration {
	if s.Cron != nil {
		return s.Cron.Next(now).Sub(now)
	}
	return s.Interval
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * jitterFraction * float64(base))
}
