package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

// Clock is a minute-precision time of day stored as minutes since midnight
// and exchanged as "HH:MM".
type Clock int

// ParseClock parses an HH:MM string.
func ParseClock(raw string) (Clock, error) {
	minutes, err := interval.ParseClock(raw)
	if err != nil {
		return 0, err
	}
	return Clock(minutes), nil
}

// Minutes returns the raw minutes since midnight.
func (c Clock) Minutes() int {
	return int(c)
}

// Add returns the clock shifted by the given number of minutes.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

func (c Clock) String() string {
	return interval.FormatClock(int(c))
}

// MarshalJSON renders the clock as "HH:MM".
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts "HH:MM".
func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("clock must be an HH:MM string: %w", err)
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer.
func (c Clock) Value() (driver.Value, error) {
	return int64(c), nil
}

// Scan implements sql.Scanner.
func (c *Clock) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*c = Clock(v)
	case int:
		*c = Clock(v)
	case int32:
		*c = Clock(v)
	case []byte:
		var n int
		if _, err := fmt.Sscanf(string(v), "%d", &n); err != nil {
			return fmt.Errorf("scan clock: %w", err)
		}
		*c = Clock(n)
	default:
		return fmt.Errorf("scan clock: unsupported type %T", src)
	}
	return nil
}
