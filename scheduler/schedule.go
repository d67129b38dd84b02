package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Field is the set of values a schedule field matches. A nil Field matches
// every value.
type Field []int

func (f Field) String() string {
	if f == nil {
		return "*"
	}
	parts := make([]string, len(f))
	for i, v := range f {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Schedule is a cadence expressed in cron fields. Day of month and month are
// always "*".
type Schedule struct {
	Minute    Field
	Hour      Field
	DayOfWeek Field
}

// Hourly fires every hour at minute.
func Hourly(minute int) Schedule {
	return Schedule{Minute: Field{minute}}
}

// Daily fires every day at hour:minute.
func Daily(hour, minute int) Schedule {
	return Schedule{Minute: Field{minute}, Hour: Field{hour}}
}

// Weekly fires every week on day at hour:minute.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return Schedule{Minute: Field{minute}, Hour: Field{hour}, DayOfWeek: Field{int(day)}}
}

// EveryMinutes fires at every minute of the hour divisible by n.
func EveryMinutes(n int) Schedule {
	if n <= 1 {
		return Schedule{}
	}
	var minutes Field
	for m := 0; m < 60; m += n {
		minutes = append(minutes, m)
	}
	return Schedule{Minute: minutes}
}

// String renders the schedule as a five field cron expression.
func (s Schedule) String() string {
	return fmt.Sprintf("%s %s * * %s", s.Minute, s.Hour, s.DayOfWeek)
}

// Validate checks every field value against its range.
func (s Schedule) Validate() error {
	checks := []struct {
		name     string
		field    Field
		min, max int
	}{
		{"minute", s.Minute, 0, 59},
		{"hour", s.Hour, 0, 23},
		{"day of week", s.DayOfWeek, 0, 6},
	}
	for _, c := range checks {
		if c.field != nil && len(c.field) == 0 {
			return fmt.Errorf("schedule: %s field is empty", c.name)
		}
		for _, v := range c.field {
			if v < c.min || v > c.max {
				return fmt.Errorf("schedule: %s %d out of range %d-%d", c.name, v, c.min, c.max)
			}
		}
	}
	return nil
}

// compile validates s and hands it to cronexpr.
func (s Schedule) compile() (*cronexpr.Expression, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return cronexpr.Parse(s.String())
}

// Next returns the first fire time strictly after t, evaluated in loc.
func (s Schedule) Next(t time.Time, loc *time.Location) (time.Time, error) {
	expr, err := s.compile()
	if err != nil {
		return time.Time{}, err
	}
	return nextIn(expr, t, loc), nil
}

func nextIn(expr *cronexpr.Expression, t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return expr.Next(t.In(loc))
}

// ParseSchedule parses "minute hour * * day-of-week". Fields accept "*",
// "*/n", lists and ranges; day of week 7 is Sunday.
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("schedule: expected 5 fields in %q, got %d", expr, len(fields))
	}
	if fields[2] != "*" || fields[3] != "*" {
		return Schedule{}, fmt.Errorf("schedule: day of month and month must be * in %q", expr)
	}

	var (
		s   Schedule
		err error
	)
	if s.Minute, err = parseField(fields[0], 0, 59); err != nil {
		return Schedule{}, fmt.Errorf("schedule: minute: %w", err)
	}
	if s.Hour, err = parseField(fields[1], 0, 23); err != nil {
		return Schedule{}, fmt.Errorf("schedule: hour: %w", err)
	}
	if s.DayOfWeek, err = parseField(fields[4], 0, 7); err != nil {
		return Schedule{}, fmt.Errorf("schedule: day of week: %w", err)
	}
	if s.DayOfWeek != nil {
		for i, d := range s.DayOfWeek {
			if d == 7 {
				s.DayOfWeek[i] = 0
			}
		}
		s.DayOfWeek = normalize(s.DayOfWeek)
	}
	return s, nil
}

// MustParseSchedule is ParseSchedule that panics on error.
func MustParseSchedule(expr string) Schedule {
	s, err := ParseSchedule(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func parseField(raw string, lowest, highest int) (Field, error) {
	if raw == "*" {
		return nil, nil
	}

	var out Field
	for _, part := range strings.Split(raw, ",") {
		step := 1
		if base, stepRaw, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepRaw)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", stepRaw)
			}
			step, part = n, base
		}

		lo, hi := lowest, highest
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("bad value %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("bad value %q", b)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", part)
			}
			lo, hi = v, v
			if step > 1 {
				hi = highest
			}
		}
		if lo < lowest || hi > highest || lo > hi {
			return nil, fmt.Errorf("range %d-%d outside %d-%d", lo, hi, lowest, highest)
		}
		for v := lo; v <= hi; v += step {
			out = append(out, v)
		}
	}
	return normalize(out), nil
}

func normalize(f Field) Field {
	slices.Sort(f)
	return slices.Compact(f)
}
