package datastore

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ParseTimeOfDay parses an "HH:MM:SS" clock time into a pgtype.Time,
// the pgx representation of a Postgres TIME column.
func ParseTimeOfDay(s string) (pgtype.Time, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return pgtype.Time{}, err
	}
	micros := int64(t.Hour())*int64(time.Hour/time.Microsecond) +
		int64(t.Minute())*int64(time.Minute/time.Microsecond) +
		int64(t.Second())*int64(time.Second/time.Microsecond)
	return pgtype.Time{Microseconds: micros, Valid: true}, nil
}

// FormatTimeOfDay renders a pgtype.Time as "HH:MM:SS". Invalid (NULL)
// values render as the empty string.
func FormatTimeOfDay(t pgtype.Time) string {
	if !t.Valid {
		return ""
	}
	total := t.Microseconds / int64(time.Second/time.Microsecond)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
