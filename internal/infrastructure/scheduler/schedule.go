package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the first run time strictly after t. A zero time means the
	// schedule never fires again.
	Next(t time.Time) time.Time

	String() string
}

// ParseSchedule accepts "@every <duration>", the descriptors @hourly, @daily,
// @weekly, @monthly and @yearly, or a standard 5-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
		}
		// cron clamps short intervals to one second instead of failing.
		if d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", spec)
		}
	}
	return ParseCron(spec)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule fires at a fixed interval after the previous run.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(d time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: d}
}

// Next implements Schedule.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// Common cron expressions.
const (
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	EverySunday      = "0 0 * * 0"
)

// CronSchedule is a parsed cron expression in t's own location. When both
// day fields are restricted either may match.
type CronSchedule struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard 5-field expression or a descriptor.
func ParseCron(expr string) (*CronSchedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronSchedule{raw: expr, schedule: s}, nil
}

// MustParseCron parses a cron expression or panics. Use only for constants.
func MustParseCron(expr string) *CronSchedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next implements Schedule.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

func (c *CronSchedule) String() string {
	return c.raw
}
