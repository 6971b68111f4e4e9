package api

import (
	"fmt"
	"strings"
	"time"
)

// timeLayouts lists every date format the server has been seen to return.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000000Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"20060102T15:04:05.000000Z07:00",
	"20060102T15:04:05.000Z07:00",
	"20060102T15:04:05Z07:00",
}

// wkTime wraps time.Time with the wire date formats. Null and missing
// values unmarshal to the zero time.
type wkTime struct {
	time.Time
}

func (t wkTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + formatTime(t.Time) + `"`), nil
}

func (t *wkTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised date format: %q", s)
}

// formatTime renders a timestamp the way the server expects it in request
// bodies and updated_after query parameters.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
