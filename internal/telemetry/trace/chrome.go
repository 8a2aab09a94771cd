// Package trace writes a Chrome-trace-compatible JSON event log, the
// collector-free debugging artifact enabled by setting CARTON_TRACE_FILE.
// Unlike internal/telemetry/otel, this exporter has no server dependency: it
// is a flat array of records written straight to a file.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Phase is a Chrome trace event phase code.
type Phase string

const (
	PhaseBegin     Phase = "B"
	PhaseEnd       Phase = "E"
	PhaseComplete  Phase = "X"
	PhaseInstant   Phase = "i"
	PhaseCounter   Phase = "C"
)

// Event is a single Chrome-trace record.
type Event struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat"`
	Ph   Phase          `json:"ph"`
	TS   int64          `json:"ts"`             // microseconds
	Dur  int64          `json:"dur,omitempty"`  // microseconds, only for Ph=X
	PID  int            `json:"pid"`
	TID  uint64         `json:"tid"`            // correlation id doubles as thread id
	Args map[string]any `json:"args,omitempty"`
}

// Writer appends events to a Chrome-trace JSON file. It is safe for
// concurrent use from multiple orchestrator goroutines.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	started bool
	pid     int
}

// Open creates (or truncates) the file at path and returns a Writer ready to
// accept events. Callers should defer Close.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	w := &Writer{f: f, pid: os.Getpid()}
	if _, err := f.WriteString("[\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	w.enc = json.NewEncoder(f)
	return w, nil
}

// Emit appends ev to the trace file, filling in PID if unset.
func (w *Writer) Emit(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.PID == 0 {
		ev.PID = w.pid
	}
	if w.started {
		if _, err := w.f.WriteString(","); err != nil {
			return err
		}
	}
	w.started = true
	return w.enc.Encode(ev)
}

// Span emits matching Begin/End events bracketing fn and returns fn's error.
func (w *Writer) Span(name, category string, correlationID uint64, fn func() error) error {
	start := time.Now()
	if err := w.Emit(Event{Name: name, Cat: category, Ph: PhaseBegin, TS: start.UnixMicro(), TID: correlationID}); err != nil {
		return err
	}
	err := fn()
	end := time.Now()
	args := map[string]any{}
	if err != nil {
		args["error"] = err.Error()
	}
	_ = w.Emit(Event{Name: name, Cat: category, Ph: PhaseEnd, TS: end.UnixMicro(), TID: correlationID, Args: args})
	return err
}

// Close finishes the JSON array and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.WriteString("\n]\n"); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
