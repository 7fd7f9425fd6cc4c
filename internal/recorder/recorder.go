// Package recorder is a durable flight recorder for the event bus: it
// subscribes to every event a running process publishes and appends
// each one as a JSON line to a rotating trace file, so a session's full
// event history survives after the process exits and can be inspected
// without re-running the scenario that produced it.
//
// Adapted from the teacher's internal/recorder package (rotating
// trace-file debugging aid keyed by session id), generalized from
// direct Log() calls into an eventbus.Bus subscriber so every component
// that already publishes through the bus is traced for free.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"scrapcore/internal/eventbus"
)

const (
	// MaxRotatedFiles bounds how many trace files are kept on disk.
	MaxRotatedFiles = 3
	// DefaultTraceDir is used when Recorder is constructed with an empty path.
	DefaultTraceDir = "data/traces"
)

// Recorder subscribes to a Bus and durably logs every event it sees.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	sub      *eventbus.Subscription
}

// New creates a Recorder rooted at basePath, creating the directory if
// necessary. Call Start to begin subscribing and writing a new trace file.
func New(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = DefaultTraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath}, nil
}

// Start rotates old trace files, opens a new one tagged with label, and
// subscribes to bus so every subsequent event is appended to it. Call
// Stop to unsubscribe and close the file.
func (r *Recorder) Start(bus *eventbus.Bus, label string) error {
	r.mu.Lock()
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if err := r.rotate(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", label, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.mu.Unlock()

	if bus != nil {
		r.sub = bus.Subscribe()
		go r.drain()
	}
	return nil
}

func (r *Recorder) drain() {
	for evt := range r.sub.Events {
		r.log(evt)
	}
}

func (r *Recorder) log(evt eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(evt)
}

// rotate keeps only the newest MaxRotatedFiles-1 trace files, making
// room for the one about to be created.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool { return traces[i].Time.After(traces[j].Time) })

	if len(traces) >= MaxRotatedFiles {
		keep := MaxRotatedFiles - 1
		if keep < 0 {
			keep = 0
		}
		for i := keep; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.basePath, traces[i].Name))
		}
	}
	return nil
}

// Stop unsubscribes from the bus and closes the current trace file.
func (r *Recorder) Stop() error {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
