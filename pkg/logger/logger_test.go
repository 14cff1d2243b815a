package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewForwardsToSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	New("cron", base).Printf("start %d entries", 2)

	out := buf.String()
	if !strings.Contains(out, "component=cron") || !strings.Contains(out, `msg="start 2 entries"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
