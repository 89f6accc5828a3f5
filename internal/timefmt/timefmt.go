// Package timefmt converts between the human-facing time notations accepted by
// jobrelay and epoch milliseconds.
//
// Two notations are supported:
//   - absolute wall-clock time, exactly 14 digits: YYYYMMDDHHMMSS
//   - relative duration: [Nh][Nm][Ns], at least one unit, hours 0-8760,
//     minutes and seconds 0-59
//
// All functions are pure and safe for concurrent use.
package timefmt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wasilibs/go-re2"
)

const (
	// AbsoluteLayout is the Go layout for the 14-digit absolute notation.
	AbsoluteLayout = "20060102150405"

	// MaxHours bounds the hour component of a relative duration (one year).
	MaxHours = 8760

	absoluteExpected = "YYYYMMDDHHMMSS (14 digits)"
	durationExpected = "[Nh][Nm][Ns], e.g. 1h30m, 45s"
)

var (
	absolutePattern = re2.MustCompile(`^\d{14}$`)
	durationPattern = re2.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)
)

// FormatError reports text that does not match the expected notation.
type FormatError struct {
	Input    string
	Expected string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time format %q: %s (expected %s)", e.Input, e.Reason, e.Expected)
}

// DurationError reports a well-formed duration that is not usable, such as zero.
type DurationError struct {
	Input  string
	Reason string
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("invalid duration %q: %s", e.Input, e.Reason)
}

// ParseAbsolute parses YYYYMMDDHHMMSS in the local time zone.
func ParseAbsolute(s string) (int64, error) {
	return ParseAbsoluteIn(s, time.Local)
}

// ParseAbsoluteIn parses YYYYMMDDHHMMSS in loc. The decoded calendar fields
// must survive a round trip through time.Date, so month 13, Feb 30 and
// wall-clock times skipped by a DST transition are rejected instead of
// silently rolling over.
func ParseAbsoluteIn(s string, loc *time.Location) (int64, error) {
	if !absolutePattern.MatchString(s) {
		return 0, &FormatError{Input: s, Expected: absoluteExpected, Reason: "must be exactly 14 digits"}
	}

	// The pattern guarantees digits, so the conversions cannot fail.
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	hour, _ := strconv.Atoi(s[8:10])
	minute, _ := strconv.Atoi(s[10:12])
	second, _ := strconv.Atoi(s[12:14])

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return 0, &FormatError{Input: s, Expected: absoluteExpected, Reason: "not a valid calendar date/time"}
	}

	return t.UnixMilli(), nil
}

// FormatAbsolute renders ms as YYYYMMDDHHMMSS in the local time zone.
func FormatAbsolute(ms int64) string {
	return FormatAbsoluteIn(ms, time.Local)
}

// FormatAbsoluteIn renders ms as YYYYMMDDHHMMSS in loc.
func FormatAbsoluteIn(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format(AbsoluteLayout)
}

// ParseDuration parses [Nh][Nm][Ns] into milliseconds. The total must be positive.
func ParseDuration(s string) (int64, error) {
	if s == "" {
		return 0, &FormatError{Input: s, Expected: durationExpected, Reason: "empty duration"}
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &FormatError{Input: s, Expected: durationExpected, Reason: "no recognised h/m/s units"}
	}

	hours, err := component(s, m[1], "hours", MaxHours)
	if err != nil {
		return 0, err
	}
	minutes, err := component(s, m[2], "minutes", 59)
	if err != nil {
		return 0, err
	}
	seconds, err := component(s, m[3], "seconds", 59)
	if err != nil {
		return 0, err
	}

	total := (hours*3600 + minutes*60 + seconds) * 1000
	if total <= 0 {
		return 0, &DurationError{Input: s, Reason: "duration must be positive"}
	}
	return total, nil
}

// FutureFromDuration returns now + ParseDuration(s).
func FutureFromDuration(s string, now int64) (int64, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return now + d, nil
}

// Components splits ms into whole hours, minutes and seconds.
func Components(ms int64) (hours, minutes, seconds int64) {
	total := ms / 1000
	return total / 3600, (total % 3600) / 60, total % 60
}

// FormatDuration renders ms in canonical [Nh][Nm][Ns] form, omitting zero units.
// Sub-second remainders are dropped; zero renders as "0s".
func FormatDuration(ms int64) string {
	h, m, s := Components(ms)
	out := ""
	if h > 0 {
		out += strconv.FormatInt(h, 10) + "h"
	}
	if m > 0 {
		out += strconv.FormatInt(m, 10) + "m"
	}
	if s > 0 || out == "" {
		out += strconv.FormatInt(s, 10) + "s"
	}
	return out
}

func component(input, raw, name string, max int64) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v > max {
		return 0, &FormatError{
			Input:    input,
			Expected: durationExpected,
			Reason:   fmt.Sprintf("%s must be between 0 and %d", name, max),
		}
	}
	return v, nil
}
