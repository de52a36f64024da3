package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday is a closed enumeration of the seven days, 0=Sunday … 6=Saturday,
// matching time.Weekday.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"SUNDAY", "MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY"}

var weekdayAliases = map[string]Weekday{
	"SUNDAY": Sunday, "SUN": Sunday, "SU": Sunday,
	"MONDAY": Monday, "MON": Monday, "MO": Monday,
	"TUESDAY": Tuesday, "TUE": Tuesday, "TUES": Tuesday, "TU": Tuesday,
	"WEDNESDAY": Wednesday, "WED": Wednesday, "WEDS": Wednesday, "WE": Wednesday,
	"THURSDAY": Thursday, "THU": Thursday, "THUR": Thursday, "THURS": Thursday, "TH": Thursday,
	"FRIDAY": Friday, "FRI": Friday, "FR": Friday,
	"SATURDAY": Saturday, "SAT": Saturday, "SA": Saturday,
}

// ParseWeekday resolves a case-insensitive day name, alias or 0–6 index.
func ParseWeekday(raw string) (Weekday, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if day, ok := weekdayAliases[key]; ok {
		return day, nil
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 && n <= 6 {
		return Weekday(n), nil
	}
	return 0, fmt.Errorf("unknown day of week %q", raw)
}

// WeekdayOf returns the weekday of t.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(t.Weekday())
}

// Valid reports whether the value is within the enumeration.
func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// MarshalJSON renders the canonical upper-case name.
func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a day name, alias or integer index.
func (d *Weekday) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var (
		day Weekday
		err error
	)
	switch v := raw.(type) {
	case string:
		day, err = ParseWeekday(v)
	case float64:
		day, err = ParseWeekday(strconv.Itoa(int(v)))
	default:
		err = fmt.Errorf("unsupported day of week %v", raw)
	}
	if err != nil {
		return err
	}
	*d = day
	return nil
}

// Value implements driver.Valuer.
func (d Weekday) Value() (driver.Value, error) {
	return int64(d), nil
}

// Scan implements sql.Scanner.
func (d *Weekday) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*d = Weekday(v)
	case int:
		*d = Weekday(v)
	case []byte:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("scan weekday: %w", err)
		}
		*d = Weekday(n)
	default:
		return fmt.Errorf("scan weekday: unsupported type %T", src)
	}
	if !d.Valid() {
		return fmt.Errorf("scan weekday: %d out of range", int(*d))
	}
	return nil
}
