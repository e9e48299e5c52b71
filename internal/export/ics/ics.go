// Package ics renders dose schedules as RFC 5545 recurrence rules and calendars.
package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"dosewise/backend/internal/domain"
)

const (
	productID     = "-//dosewise//dose schedules//EN"
	eventDuration = 15 * time.Minute
)

// rruleWeekdays is indexed by time.Weekday.
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Rules expresses p as daily rules anchored at dtstart. BYHOUR and BYMINUTE combine as a
// cross product, so times are grouped by minute and each group gets its own rule. No
// rules are returned when every weekday is disabled.
func Rules(p domain.WeeklyPattern, dtstart time.Time) ([]*rrule.RRule, error) {
	var days []rrule.Weekday
	for wd, on := range p.Days {
		if on {
			days = append(days, rruleWeekdays[wd])
		}
	}
	if len(days) == 0 || len(p.Times) == 0 {
		return nil, nil
	}

	hoursByMinute := make(map[int][]int)
	for _, c := range p.Times {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTimeValue, c)
		}
		hours := hoursByMinute[c.Minute]
		if !containsInt(hours, c.Hour) {
			hoursByMinute[c.Minute] = append(hours, c.Hour)
		}
	}
	minutes := make([]int, 0, len(hoursByMinute))
	for m := range hoursByMinute {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	out := make([]*rrule.RRule, 0, len(minutes))
	for _, m := range minutes {
		hours := hoursByMinute[m]
		sort.Ints(hours)
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.DAILY,
			Dtstart:   dtstart,
			Byweekday: days,
			Byhour:    hours,
			Byminute:  []int{m},
			Bysecond:  []int{0},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Between expands every rule over (after, before) and returns the merged instants in
// ascending order without duplicates. rrule.Set keeps a single RRULE, so the rules of
// one pattern are expanded separately.
func Between(rules []*rrule.RRule, after, before time.Time) []time.Time {
	var out []time.Time
	for _, r := range rules {
		out = append(out, r.Between(after, before, false)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	merged := out[:0]
	for _, t := range out {
		if n := len(merged); n > 0 && merged[n-1].Equal(t) {
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

// Calendar renders one VEVENT per rule of every schedule that has an upcoming dose.
// DTSTART is the stored next occurrence in the schedule's own timezone so clients keep
// the local hour across DST changes.
func Calendar(schedules []domain.Schedule, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, s := range schedules {
		if s.NextOccurrence == nil {
			continue
		}
		p, err := s.Pattern()
		if err != nil {
			return "", fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		loc, err := domain.LoadLocation(s.Timezone)
		if err != nil {
			return "", fmt.Errorf("schedule %s: %w", s.ID, err)
		}

		start := s.NextOccurrence.In(loc)
		rules, err := Rules(p, start)
		if err != nil {
			return "", fmt.Errorf("schedule %s: %w", s.ID, err)
		}

		for i, r := range rules {
			first := r.After(start, true)
			if first.IsZero() {
				continue
			}
			event := cal.AddEvent(fmt.Sprintf("%s-%d@dosewise", s.ID, i))
			event.SetDtStampTime(now.UTC())
			event.SetCreatedTime(s.CreatedAt.UTC())
			event.SetModifiedAt(s.UpdatedAt.UTC())
			event.SetSummary(summary(s))
			if s.Notes != "" {
				event.SetDescription(s.Notes)
			}
			event.SetProperty(ical.ComponentPropertyDtStart, localStamp(first), tzid(loc))
			event.SetProperty(ical.ComponentPropertyDtEnd, localStamp(first.Add(eventDuration)), tzid(loc))
			event.AddRrule(r.OrigOptions.RRuleString())
		}
	}

	return cal.Serialize(), nil
}

func summary(s domain.Schedule) string {
	if s.Dosage == "" {
		return s.MedicationName
	}
	return s.MedicationName + " " + s.Dosage
}

func localStamp(t time.Time) string {
	return t.Format("20060102T150405")
}

func tzid(loc *time.Location) ical.PropertyParameter {
	return &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
