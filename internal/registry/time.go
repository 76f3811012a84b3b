package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Time is a registry timestamp, serialised as float seconds since the epoch.
type Time struct {
	time.Time
}

// now is swapped in tests that need deterministic timestamps. Timestamps
// carry microseconds, the precision they are stored and serialised with.
var now = func() Time { return Time{time.Now().UTC().Truncate(time.Microsecond)} }

// Unix returns t as fractional seconds.
func (t Time) Unix() float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromUnix converts fractional seconds to a Time.
func FromUnix(secs float64) Time {
	whole, frac := math.Modf(secs)
	return Time{time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(t.Unix(), 'f', -1, 64)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("registry time: %w", err)
	}
	*t = FromUnix(secs)
	return nil
}

// after returns a time strictly later than prev so that every mutation
// advances modified_at even within one clock tick.
func after(prev Time) Time {
	t := now()
	if !t.After(prev.Time) {
		return Time{prev.Add(time.Microsecond)}
	}
	return t
}
