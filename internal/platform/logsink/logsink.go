package logsink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	CategoryAudit      = "audit"
	CategoryViolations = "violations"
	CategorySecurity   = "security-incidents"
)

// Sink appends one timestamped JSON object per line to a log file per
// category. Write failures never propagate to callers; the decision a log
// line records has already been made.
type Sink struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func New(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

func (s *Sink) Append(category string, payload any) {
	line, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("log sink marshal failed", "category", category, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		slog.Warn("log sink mkdir failed", "dir", s.dir, "err", err)
		return
	}
	path := filepath.Join(s.dir, category+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Warn("log sink open failed", "path", path, "err", err)
		return
	}
	defer f.Close()

	stamp := s.now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "%s %s\n", stamp, line); err != nil {
		slog.Warn("log sink write failed", "path", path, "err", err)
	}
}
