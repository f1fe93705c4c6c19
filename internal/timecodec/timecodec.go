// Package timecodec converts between the clock strings race officials type
// ("05:21.35") and integer millisecond durations since race start.
package timecodec

import (
	"fmt"
	"regexp"
	"strconv"
)

// MaxRoundTrip is the first duration whose minutes field no longer fits in
// two digits. Format widens the field past this point; Parse only accepts
// two-digit minutes, so durations at or above it do not round-trip.
const MaxRoundTrip int64 = 100 * 60 * 1000

var clockPattern = regexp.MustCompile(`^(\d{2}):(\d{2})\.(\d{2})$`)

// FormatError reports a clock string that is not exactly MM:SS.cc.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time %q: expected MM:SS.cc", e.Input)
}

// Parse converts "MM:SS.cc" into milliseconds. Seconds must be below 60.
func Parse(text string) (int64, error) {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, &FormatError{Input: text}
	}
	// The pattern guarantees three two-digit groups.
	minutes, _ := strconv.ParseInt(m[1], 10, 64)
	seconds, _ := strconv.ParseInt(m[2], 10, 64)
	centis, _ := strconv.ParseInt(m[3], 10, 64)
	if seconds >= 60 {
		return 0, &FormatError{Input: text}
	}
	return minutes*60000 + seconds*1000 + centis*10, nil
}

// Format renders ms as MM:SS.cc, flooring to whole centiseconds. Negative
// values are clamped to zero. At 100 minutes and above the minutes field grows
// beyond two digits instead of wrapping.
func Format(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	centis := (ms / 10) % 100
	seconds := (ms / 1000) % 60
	minutes := ms / 60000
	return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, centis)
}

// Floor drops sub-centisecond precision, yielding the value Parse(Format(ms))
// returns.
func Floor(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms - ms%10
}
