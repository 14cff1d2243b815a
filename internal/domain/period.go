package domain

import (
	"fmt"
	"strings"
	"time"
)

// PeriodKind selects how calendar periods are keyed.
type PeriodKind string

const (
	PeriodWeek PeriodKind = "week"
	PeriodDay  PeriodKind = "day"
)

// ParsePeriodKind normalizes a configured period kind.
func ParsePeriodKind(value string) (PeriodKind, error) {
	switch PeriodKind(strings.ToLower(strings.TrimSpace(value))) {
	case PeriodWeek, "":
		return PeriodWeek, nil
	case PeriodDay:
		return PeriodDay, nil
	default:
		return "", fmt.Errorf("unknown period kind %q", value)
	}
}

// PeriodKey returns the identifier of the period containing t.
func PeriodKey(t time.Time, kind PeriodKind) string {
	if kind == PeriodDay {
		return t.Format("2006-01-02")
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// WeekdayIndex positions a weekday inside an ISO week (Monday = 0).
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
