package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string split into cron or interval form.
//
// Optional prefixes force the kind: "cron:" or "interval:" / "every:".
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// newParser accepts 5-field and 6-field (seconds) specs plus descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ParseSchedule classifies raw as a cron expression or a fixed interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(s[len("every:"):])
	}

	// whitespace or a leading '@' means cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if ps, err := intervalSpec(s); err == nil {
		return ps, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/15 * * * *', HH:MM like '00:15', or duration like '15m')",
		raw,
	)
}

func intervalSpec(v string) (ParsedSpec, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// Parse turns raw into a schedule evaluated in loc (nil means the caller's
// time zone). The alert job uses it to compute the next persisted run_at.
func Parse(raw string, loc *time.Location) (cron.Schedule, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecInterval {
		return cron.Every(ps.Every), nil
	}
	sched, err := newParser().Parse(ps.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
	}
	if loc == nil {
		return sched, nil
	}
	return inLocation{base: sched, loc: loc}, nil
}

// inLocation evaluates base in loc and returns results in the caller's zone.
type inLocation struct {
	base cron.Schedule
	loc  *time.Location
}

func (s inLocation) Next(t time.Time) time.Time {
	next := s.base.Next(t.In(s.loc))
	if next.IsZero() {
		return next
	}
	return next.In(t.Location())
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, "", fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, "", fmt.Errorf("interval must be > 0")
		}
		return d, "hhmm", nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '15m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

// parseHHMM reads a wall clock time of day.
func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
