package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed five-field cron expression (minute hour dom month dow),
// evaluated in UTC.
type Schedule struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

type fieldSet struct {
	any  bool
	vals map[int]struct{}
}

func (f fieldSet) has(v int) bool {
	if f.any {
		return true
	}
	_, ok := f.vals[v]
	return ok
}

var cronFields = []struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"dom", 1, 31},
	{"month", 1, 12},
	{"dow", 0, 6},
}

// ParseSchedule accepts "*", "*/N", single values and comma lists per field.
func ParseSchedule(expr string) (*Schedule, error) {
	tokens := strings.Fields(strings.TrimSpace(expr))
	if len(tokens) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression (expected 5 fields): %q", expr)
	}
	sets := make([]fieldSet, len(cronFields))
	for i, f := range cronFields {
		set, err := parseCronField(tokens[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		sets[i] = set
	}
	return &Schedule{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

// Next returns the first matching minute strictly after after, looking at most
// a year ahead.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	start := after.UTC().Add(time.Minute).Truncate(time.Minute)
	limit := start.AddDate(1, 0, 1)
	for t := start; t.Before(limit); t = t.Add(time.Minute) {
		if s.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time within a year")
}

func (s *Schedule) matches(t time.Time) bool {
	if !s.minute.has(t.Minute()) || !s.hour.has(t.Hour()) || !s.month.has(int(t.Month())) {
		return false
	}
	domOK := s.dom.has(t.Day())
	dowOK := s.dow.has(int(t.Weekday()))
	// Both day fields restricted: either may match.
	if !s.dom.any && !s.dow.any {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func parseCronField(tok string, min, max int) (fieldSet, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return fieldSet{}, fmt.Errorf("empty field")
	}
	out := fieldSet{vals: map[int]struct{}{}}
	for _, part := range strings.Split(tok, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "*":
			return fieldSet{any: true}, nil
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil || step <= 0 {
				return fieldSet{}, fmt.Errorf("invalid step %q", part)
			}
			for v := min; v <= max; v += step {
				out.vals[v] = struct{}{}
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return fieldSet{}, fmt.Errorf("invalid value %q", part)
			}
			if n < min || n > max {
				return fieldSet{}, fmt.Errorf("value %d out of range (%d-%d)", n, min, max)
			}
			out.vals[n] = struct{}{}
		}
	}
	if len(out.vals) == 0 {
		return fieldSet{}, fmt.Errorf("no values parsed from %q", tok)
	}
	return out, nil
}
