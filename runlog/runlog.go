// Package runlog appends structured session events to a per-run JSONL file.
// Logging failures are swallowed: the run log must never interrupt trading.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fields is one event's key/value payload.
type Fields map[string]any

// Logger writes run events. A disabled or misconfigured logger drops every
// event silently.
type Logger struct {
	mu sync.Mutex

	path    string
	startAt time.Time
}

// New creates a run log file under dir, named after the strategy, coin and
// interval plus a short run id. Disabled loggers (enabled=false) and dir
// creation failures both return a no-op logger.
func New(strategyName, coin string, intervalMinutes int, enabled bool, dir string) *Logger {
	l := &Logger{startAt: time.Now()}
	if !enabled {
		return l
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return l
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s-%s-%s-%dm-%s.jsonl",
		stamp, strings.ToLower(strategyName), strings.ToLower(coin), intervalMinutes, runID)
	l.path = filepath.Join(dir, name)
	return l
}

// Path returns the log file path, empty when disabled.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Event appends one JSON line. Failures are dropped.
func (l *Logger) Event(eventType string, payload Fields) {
	if l == nil || l.path == "" {
		return
	}

	row := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		row[k] = v
	}
	row["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	row["elapsed_s"] = time.Since(l.startAt).Round(time.Millisecond).Seconds()
	row["event"] = eventType

	line, err := json.Marshal(row)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(append(line, '\n'))
}
