package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultHorizonDays is the lookahead used by every schedule call site.
const DefaultHorizonDays = 14

var (
	ErrInvalidPattern   = errors.New("invalid pattern")
	ErrInvalidTimeValue = errors.New("invalid time value")
	ErrInvalidWindow    = errors.New("invalid window")
	ErrInvalidTimezone  = errors.New("invalid time_zone")
)

// weekdayNames is indexed by time.Weekday, so Sunday (0) is an ordinary entry.
var weekdayNames = [7]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// WeekdayName returns the canonical pattern key for wd, or "" when wd is out of range.
func WeekdayName(wd time.Weekday) string {
	if wd < time.Sunday || wd > time.Saturday {
		return ""
	}
	return weekdayNames[wd]
}

// ParseWeekday maps a canonical pattern key ("sunday" through "saturday") to its
// weekday. Any other spelling is rejected.
func ParseWeekday(name string) (time.Weekday, bool) {
	for wd, key := range weekdayNames {
		if key == name {
			return time.Weekday(wd), true
		}
	}
	return time.Sunday, false
}

type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClockTime parses "H:MM" or "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	raw := strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return ClockTime{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTimeValue, s)
	}
	h, okH := atoiDigits(hh)
	m, okM := atoiDigits(mm)
	if !okH || !okM {
		return ClockTime{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTimeValue, s)
	}
	c := ClockTime{Hour: h, Minute: m}
	if !c.Valid() {
		return ClockTime{}, fmt.Errorf("%w: %q is out of range", ErrInvalidTimeValue, s)
	}
	return c, nil
}

func atoiDigits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// WeeklyPattern is the weekday enable map plus the list of daily dose times.
type WeeklyPattern struct {
	// Days is indexed by time.Weekday.
	Days  [7]bool
	Times []ClockTime
}

// NewWeeklyPattern builds a pattern from a weekday-name map keyed by the seven
// lowercase weekday names, all of which must be present.
func NewWeeklyPattern(days map[string]bool, times []ClockTime) (WeeklyPattern, error) {
	var p WeeklyPattern
	var seen [7]bool
	for key, enabled := range days {
		wd, ok := ParseWeekday(key)
		if !ok {
			return WeeklyPattern{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidPattern, key)
		}
		seen[wd] = true
		p.Days[wd] = enabled
	}
	for wd, ok := range seen {
		if !ok {
			return WeeklyPattern{}, fmt.Errorf("%w: missing weekday %q", ErrInvalidPattern, weekdayNames[wd])
		}
	}

	p.Times = append([]ClockTime(nil), times...)
	if err := p.validate(); err != nil {
		return WeeklyPattern{}, err
	}
	return p, nil
}

// ParsePattern is NewWeeklyPattern for the persisted form, where times are "HH:MM" strings.
func ParsePattern(days map[string]bool, times []string) (WeeklyPattern, error) {
	parsed := make([]ClockTime, 0, len(times))
	for _, s := range times {
		c, err := ParseClockTime(s)
		if err != nil {
			return WeeklyPattern{}, err
		}
		parsed = append(parsed, c)
	}
	return NewWeeklyPattern(days, parsed)
}

func (p WeeklyPattern) Enabled(wd time.Weekday) bool {
	if wd < time.Sunday || wd > time.Saturday {
		return false
	}
	return p.Days[wd]
}

func (p WeeklyPattern) AnyDayEnabled() bool {
	for _, on := range p.Days {
		if on {
			return true
		}
	}
	return false
}

// DayMap returns the seven-key map stored alongside a schedule.
func (p WeeklyPattern) DayMap() map[string]bool {
	out := make(map[string]bool, len(weekdayNames))
	for wd, name := range weekdayNames {
		out[name] = p.Days[wd]
	}
	return out
}

// TimeStrings returns the sorted, de-duplicated times as "HH:MM".
func (p WeeklyPattern) TimeStrings() []string {
	sorted := sortedTimes(p.Times)
	out := make([]string, 0, len(sorted))
	for i, c := range sorted {
		if i > 0 && sorted[i-1] == c {
			continue
		}
		out = append(out, c.String())
	}
	return out
}

func (p WeeklyPattern) validate() error {
	if len(p.Times) == 0 {
		return fmt.Errorf("%w: at least one time of day is required", ErrInvalidPattern)
	}
	for _, c := range p.Times {
		if !c.Valid() {
			return fmt.Errorf("%w: %02d:%02d is out of range", ErrInvalidTimeValue, c.Hour, c.Minute)
		}
	}
	return nil
}

func sortedTimes(times []ClockTime) []ClockTime {
	out := append([]ClockTime(nil), times...)
	sort.Slice(out, func(i, j int) bool { return out[i].minutes() < out[j].minutes() })
	return out
}

// SearchWindow bounds a next-occurrence search. Reference is exclusive.
type SearchWindow struct {
	Reference   time.Time
	Timezone    string
	HorizonDays int
}

// NextOccurrence returns the earliest instant strictly after w.Reference that falls on
// an enabled weekday at one of the pattern's times, scanning w.HorizonDays calendar days
// of w.Timezone starting with the day that contains the reference. ok is false when the
// horizon holds no such instant.
func NextOccurrence(p WeeklyPattern, w SearchWindow) (next time.Time, ok bool, err error) {
	loc, err := validateSearch(p, w)
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok = nextOccurrence(p, sortedTimes(p.Times), w.Reference, loc, w.HorizonDays)
	return next, ok, nil
}

// UpcomingOccurrences lists up to limit occurrences inside the window's horizon. Each
// lookup resumes strictly after the previous result.
func UpcomingOccurrences(p WeeklyPattern, w SearchWindow, limit int) ([]time.Time, error) {
	loc, err := validateSearch(p, w)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	times := sortedTimes(p.Times)
	day0 := civilDay(w.Reference.In(loc))
	out := make([]time.Time, 0, limit)
	ref := w.Reference
	for len(out) < limit {
		remaining := w.HorizonDays - daysBetween(day0, civilDay(ref.In(loc)))
		if remaining <= 0 {
			break
		}
		next, ok := nextOccurrence(p, times, ref, loc, remaining)
		if !ok {
			break
		}
		out = append(out, next)
		ref = next
	}
	return out, nil
}

func validateSearch(p WeeklyPattern, w SearchWindow) (*time.Location, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if w.HorizonDays <= 0 {
		return nil, fmt.Errorf("%w: horizon_days must be positive, got %d", ErrInvalidWindow, w.HorizonDays)
	}
	return LoadLocation(w.Timezone)
}

// nextOccurrence expects times sorted ascending.
func nextOccurrence(p WeeklyPattern, times []ClockTime, ref time.Time, loc *time.Location, horizonDays int) (time.Time, bool) {
	day0 := civilDay(ref.In(loc))
	for offset := 0; offset < horizonDays; offset++ {
		day := day0.AddDate(0, 0, offset)
		if !p.Days[day.Weekday()] {
			continue
		}

		// A wall clock inside a DST gap is pushed forward and may land after a later
		// listed time, so the whole day is checked rather than the first hit.
		var best time.Time
		for _, c := range times {
			candidate := localInstant(day, c, loc)
			if !candidate.After(ref) {
				continue
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
		if !best.IsZero() {
			return best, true
		}
	}
	return time.Time{}, false
}

// civilDay is midnight UTC of t's calendar date; weekday and day arithmetic on it are
// free of DST effects.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

// localInstant places c on the civil day in loc. An ambiguous wall clock (DST fall-back)
// resolves to the earlier instant; a wall clock inside a forward gap moves forward by the
// length of the gap.
func localInstant(day time.Time, c ClockTime, loc *time.Location) time.Time {
	y, m, d := day.Date()
	wall := time.Date(y, m, d, c.Hour, c.Minute, 0, 0, time.UTC)
	t := time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)

	var best time.Time
	for _, near := range [...]time.Time{t.Add(-12 * time.Hour), t, t.Add(12 * time.Hour)} {
		_, offset := near.Zone()
		candidate := wall.Add(-time.Duration(offset) * time.Second).In(loc)
		if !sameWallClock(candidate, wall) {
			continue
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if !best.IsZero() {
		return best
	}

	_, before := t.Add(-12 * time.Hour).Zone()
	return wall.Add(-time.Duration(before) * time.Second).In(loc)
}

func sameWallClock(t, wall time.Time) bool {
	y, m, d := t.Date()
	wy, wm, wd := wall.Date()
	return y == wy && m == wm && d == wd && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}

var locations sync.Map

// LoadLocation resolves an IANA timezone name. Empty and "Local" are rejected because
// they depend on the host.
func LoadLocation(name string) (*time.Location, error) {
	tz := strings.TrimSpace(name)
	if tz == "" || tz == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	if cached, ok := locations.Load(tz); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	locations.Store(tz, loc)
	return loc, nil
}

// LogReference picks the search reference when a dose is logged. A stored next
// occurrence that is still ahead of now is the slot being consumed, so the search
// resumes after it; ad-hoc logs and stale slots search forward from now.
func LogReference(now time.Time, storedNext *time.Time, adHoc bool) (ref time.Time, consumed bool) {
	if !adHoc && storedNext != nil && storedNext.After(now) {
		return *storedNext, true
	}
	return now, false
}
