package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CadenceType distinguishes daily from weekly schedules.
type CadenceType string

const (
	CadenceDaily  CadenceType = "daily"
	CadenceWeekly CadenceType = "weekly"
)

// Cadence is the wall-clock schedule of a job: every day at Hour:Minute, or
// every Weekday at Hour:Minute. Times are interpreted in the scheduler's
// configured timezone.
type Cadence struct {
	Type    CadenceType
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// Daily returns a cadence firing every day at hour:minute.
func Daily(hour, minute int) Cadence {
	return Cadence{Type: CadenceDaily, Hour: hour, Minute: minute}
}

// Weekly returns a cadence firing every weekday at hour:minute.
func Weekly(weekday time.Weekday, hour, minute int) Cadence {
	return Cadence{Type: CadenceWeekly, Weekday: weekday, Hour: hour, Minute: minute}
}

// Validate checks the cadence fields are in range.
func (c Cadence) Validate() error {
	if c.Type != CadenceDaily && c.Type != CadenceWeekly {
		return fmt.Errorf("unknown cadence type %q", c.Type)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("hour %d out of range [0,23]", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("minute %d out of range [0,59]", c.Minute)
	}
	if c.Type == CadenceWeekly && (c.Weekday < time.Sunday || c.Weekday > time.Saturday) {
		return fmt.Errorf("weekday %d out of range", c.Weekday)
	}
	return nil
}

// CronSpec renders the cadence as a five-field cron expression
// (minute hour dom month dow).
func (c Cadence) CronSpec() string {
	if c.Type == CadenceWeekly {
		return fmt.Sprintf("%d %d * * %d", c.Minute, c.Hour, int(c.Weekday))
	}
	return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour)
}

// String renders the cadence in the same form ParseCadence accepts.
func (c Cadence) String() string {
	if c.Type == CadenceWeekly {
		return fmt.Sprintf("weekly %s %02d:%02d", weekdayAbbrev[c.Weekday], c.Hour, c.Minute)
	}
	return fmt.Sprintf("daily %02d:%02d", c.Hour, c.Minute)
}

var weekdayAbbrev = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// ParseCadence parses "daily HH:MM" or "weekly <weekday> HH:MM". Weekdays are
// accepted as three-letter abbreviations or full English names.
func ParseCadence(s string) (Cadence, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return Cadence{}, fmt.Errorf("empty cadence")
	}

	var c Cadence
	switch CadenceType(fields[0]) {
	case CadenceDaily:
		if len(fields) != 2 {
			return Cadence{}, fmt.Errorf("expected \"daily HH:MM\", got %q", s)
		}
		h, m, err := parseTimeOfDay(fields[1])
		if err != nil {
			return Cadence{}, err
		}
		c = Daily(h, m)
	case CadenceWeekly:
		if len(fields) != 3 {
			return Cadence{}, fmt.Errorf("expected \"weekly <weekday> HH:MM\", got %q", s)
		}
		wd, err := parseWeekday(fields[1])
		if err != nil {
			return Cadence{}, err
		}
		h, m, err := parseTimeOfDay(fields[2])
		if err != nil {
			return Cadence{}, err
		}
		c = Weekly(wd, h, m)
	default:
		return Cadence{}, fmt.Errorf("unknown cadence type %q", fields[0])
	}
	return c, c.Validate()
}

// parseTimeOfDay parses an exact "HH:MM" string.
func parseTimeOfDay(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	var hour, minute int
	n, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range [0,59]", minute)
	}
	return hour, minute, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for wd, abbrev := range weekdayAbbrev {
		if s == abbrev || s == strings.ToLower(wd.String()) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

type cadenceJSON struct {
	Type    CadenceType `json:"type"`
	Weekday string      `json:"weekday,omitempty"`
	Hour    int         `json:"hour"`
	Minute  int         `json:"minute"`
	Spec    string      `json:"spec"`
}

// MarshalJSON renders the weekday by name so Sunday is not lost to omitempty.
// The zero Cadence is null.
func (c Cadence) MarshalJSON() ([]byte, error) {
	if c == (Cadence{}) {
		return []byte("null"), nil
	}
	out := cadenceJSON{Type: c.Type, Hour: c.Hour, Minute: c.Minute, Spec: c.String()}
	if c.Type == CadenceWeekly {
		out.Weekday = strings.ToLower(c.Weekday.String())
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the object form produced by MarshalJSON. null leaves
// the zero Cadence.
func (c *Cadence) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*c = Cadence{}
		return nil
	}
	var in cadenceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed := Cadence{Type: in.Type, Hour: in.Hour, Minute: in.Minute}
	if in.Type == CadenceWeekly {
		wd, err := parseWeekday(strings.ToLower(in.Weekday))
		if err != nil {
			return err
		}
		parsed.Weekday = wd
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*c = parsed
	return nil
}
