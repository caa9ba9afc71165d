package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ianterrell/dmc/internal/dmc"
)

// TraceFile is the name of the iteration trace file.
const TraceFile = "trace.jsonl"

// IterationTrace is one line of the trace file.
// RefEnergy is nil when the reference energy was not finite.
type IterationTrace struct {
	Event     string   `json:"event"`
	Iteration int      `json:"iteration"`
	Tau       float64  `json:"tau"`
	Walkers   int      `json:"walkers"`
	RefEnergy *float64 `json:"ref_energy"`
	Births    int      `json:"births"`
	Deaths    int      `json:"deaths"`
	Logged    string   `json:"logged_at"`
}

// NewIterationTrace builds the trace line for iteration i from s.
func NewIterationTrace(i int, s dmc.Snapshot) IterationTrace {
	tr := IterationTrace{
		Event:     "iteration",
		Iteration: i,
		Tau:       s.Time,
		Walkers:   s.Size,
		Births:    s.LastBranch.Births,
		Deaths:    s.LastBranch.Deaths,
	}
	if !math.IsNaN(s.RefEnergy) && !math.IsInf(s.RefEnergy, 0) {
		er := s.RefEnergy
		tr.RefEnergy = &er
	}
	return tr
}

// TraceLogger appends IterationTrace lines to <dir>/trace.jsonl.
// A nil *TraceLogger discards everything, so callers never need to check.
type TraceLogger struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	now func() time.Time
}

// NewTraceLogger opens dir/trace.jsonl for append when level is debug or
// trace. At info level, or if the file cannot be opened, it returns nil.
func NewTraceLogger(dir string, level string) *TraceLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TraceFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TraceLogger{f: f, enc: json.NewEncoder(f), now: time.Now}
}

// LogIteration writes the trace line for iteration i.
func (tl *TraceLogger) LogIteration(i int, s dmc.Snapshot) {
	if tl == nil {
		return
	}
	tr := NewIterationTrace(i, s)

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f == nil {
		return
	}
	tr.Logged = tl.now().UTC().Format(time.RFC3339Nano)
	_ = tl.enc.Encode(tr)
}

// Close closes the trace file. Later LogIteration calls are dropped.
func (tl *TraceLogger) Close() {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f != nil {
		tl.f.Close()
		tl.f = nil
	}
}

// ReadTrace parses a trace file written by TraceLogger.
func ReadTrace(path string) ([]IterationTrace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []IterationTrace
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		var tr IterationTrace
		if err := json.Unmarshal(sc.Bytes(), &tr); err != nil {
			return out, fmt.Errorf("trace line %d: %w", line, err)
		}
		out = append(out, tr)
	}
	return out, sc.Err()
}
