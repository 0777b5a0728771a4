package glog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
)

func TestLimiter(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(0, 0)

	l := New(log.NewLogfmtLogger(&buf), 2*time.Second)
	l.now = func() time.Time { return now }

	err := errors.New("connection refused")
	l.Error(err, "msg", "poll failed", "device", "a")
	now = now.Add(time.Second)
	l.Error(err, "msg", "poll failed", "device", "a")
	now = now.Add(3 * time.Second)
	l.Error(err, "msg", "poll failed", "device", "a")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines but got %v:\n%s", len(lines), buf.String())
	}
	for i, lvl := range []string{"level=error", "level=debug", "level=error"} {
		if !strings.Contains(lines[i], lvl) {
			t.Fatalf("expected line %v to contain %q but got %q", i, lvl, lines[i])
		}
	}
	if !strings.Contains(lines[0], `err="connection refused"`) {
		t.Fatalf("expected error to be logged but got %q", lines[0])
	}

	now = now.Add(2 * time.Second)
	l.Forget()
	if len(l.trackLogs) != 0 {
		t.Fatalf("expected tracked errors to be forgotten but got %v", l.trackLogs)
	}
}
