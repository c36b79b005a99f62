package snapshot

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/failure"
)

// RequestLog appends each outgoing LLM request body to a JSONL file.
type RequestLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenRequestLog opens path for appending, creating it and its parent
// directories as needed.
func OpenRequestLog(path string) (*RequestLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, failure.Wrapf(failure.KindPrecondition, err, "snapshot: create directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, failure.Wrapf(failure.KindPrecondition, err, "snapshot: open request log %s", path)
	}
	return &RequestLog{path: path, f: f}, nil
}

// Record writes body as one line.
func (l *RequestLog) Record(body any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return eris.Errorf("snapshot: request log %s is closed", l.path)
	}
	return eris.Wrapf(writeLine(l.f, body), "snapshot: append to %s", l.path)
}

// Close releases the file. It is safe to call more than once.
func (l *RequestLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return eris.Wrapf(err, "snapshot: close request log %s", l.path)
}
