package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the wire format for timestamps: UTC with microseconds and an
// explicit "+00:00" offset.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

// Timestamp is a UTC instant serialised with TimeFormat.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{Time: time.Now().UTC()}
}

// NewTimestamp wraps t, converting it to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// String formats the timestamp with TimeFormat.
func (t Timestamp) String() string {
	return t.UTC().Format(TimeFormat)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. RFC 3339 input is also accepted.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(TimeFormat, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}
