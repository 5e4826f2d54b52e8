package client

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the formats accepted for flight dates, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	time.RFC3339,
}

// ConvertDate normalizes a flight date into YYYY-MM-DD. Relative phrases
// ("today", "tomorrow", "yesterday") and the empty string resolve against
// now; anything else must match one of the accepted layouts.
func ConvertDate(s string, now time.Time) (string, error) {
	const layout = "2006-01-02"

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "today":
		return now.Format(layout), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(layout), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(layout), nil
	}

	for _, l := range dateLayouts {
		if t, err := time.Parse(l, strings.TrimSpace(s)); err == nil {
			return t.Format(layout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}
