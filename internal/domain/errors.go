package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks data or configuration problems that no retry can fix.
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
	// ErrNoChannel marks a notification that had nowhere to go.
	ErrNoChannel     = errors.New("no delivery channel")
)

// Wrap builds an error that carries stage context and a classification marker.
func Wrap(marker error, stage Stage, operation, message string, err error) error {
	detail := buildDetail(string(stage), operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether the error must fail the job without retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{stage, operation, message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
