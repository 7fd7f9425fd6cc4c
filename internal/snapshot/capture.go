package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scrapcore/internal/correlation"
	"scrapcore/internal/eventbus"
)

// ContentDriver is the subset of the DOM driver facade a capture needs.
// Satisfied structurally by *domdriver.Facade.
type ContentDriver interface {
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// CaptureOptions parameterizes one capture call.
type CaptureOptions struct {
	SessionID     string
	ContextID     string
	PageName      string
	URL           string
	Title         string
	CorrelationID string
	// ReadinessWait, if set, blocks until the page-type-specific
	// dynamic-content signal is ready (or its own bounded timeout
	// elapses); it runs after the HTML is read and before the
	// screenshot is taken. Left nil for page types with
	// no such signal, per spec §4.6 step 4.
	ReadinessWait func(ctx context.Context) error
}

// Manager produces and persists snapshots under a root directory.
type Manager struct {
	dir string
	bus *eventbus.Bus
}

// New returns a Manager rooted at dir, creating the directory tree.
func New(dir string, bus *eventbus.Bus) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dir, "screenshots"), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directories: %w", err)
	}
	return &Manager{dir: dir, bus: bus}, nil
}

// Capture runs the full capture sequence (spec §4.6 steps 1-11) and
// does not return until the manifest file is durable on disk.
func (m *Manager) Capture(ctx context.Context, driver ContentDriver, opts CaptureOptions) (Manifest, error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = correlation.New()
	}
	capturedAt := time.Now()
	snapshotID := buildSnapshotID(opts.PageName, opts.SessionID, capturedAt)

	htmlStart := time.Now()
	html, err := driver.Content(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("capture html: %w", err)
	}
	htmlMs := time.Since(htmlStart).Milliseconds()

	if opts.ReadinessWait != nil {
		_ = opts.ReadinessWait(ctx) // best-effort; a timeout here does not fail the capture
	}

	var screenshotPath string
	var screenshotBytes int64
	var screenshotMs int64
	shotStart := time.Now()
	if data, err := driver.Screenshot(ctx); err == nil {
		path := filepath.Join(m.dir, "screenshots", snapshotID+".png")
		if werr := writeFileFsync(path, data); werr == nil {
			screenshotPath = path
			screenshotBytes = int64(len(data))
		}
	}
	screenshotMs = time.Since(shotStart).Milliseconds()

	checksum := sha256.Sum256([]byte(html))
	htmlPath := filepath.Join(m.dir, snapshotID+".html")
	if err := writeFileFsync(htmlPath, []byte(html)); err != nil {
		return Manifest{}, fmt.Errorf("write html: %w", err)
	}

	manifest := Manifest{
		SnapshotID:     snapshotID,
		SessionID:      opts.SessionID,
		ContextID:      opts.ContextID,
		CorrelationID:  correlationID,
		PageName:       opts.PageName,
		CapturedAt:     capturedAt,
		URL:            opts.URL,
		Title:          opts.Title,
		HTMLPath:       htmlPath,
		ScreenshotPath: screenshotPath,
		Checksum:       hex.EncodeToString(checksum[:]),
		ByteSizes:      ByteSizes{HTMLBytes: int64(len(html)), ScreenshotBytes: screenshotBytes},
		Timings:        Timings{HTMLMs: htmlMs, ScreenshotMs: screenshotMs},
		SchemaVersion:  SchemaVersion,
	}

	persistStart := time.Now()
	manifestPath := filepath.Join(m.dir, snapshotID+".json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	manifest.Timings.PersistMs = time.Since(persistStart).Milliseconds()
	// Re-marshal with the final persist_ms included, then commit
	// atomically: the manifest on disk must reflect its own timing.
	data, err = json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileAtomic(manifestPath, data); err != nil {
		return Manifest{}, fmt.Errorf("persist manifest: %w", err)
	}

	m.publish(correlationID, opts.SessionID, eventbus.EventSnapshotCaptured, map[string]interface{}{
		"snapshot_id": snapshotID, "page_name": opts.PageName,
	})
	m.publish(correlationID, opts.SessionID, eventbus.EventSnapshotPersisted, map[string]interface{}{
		"snapshot_id": snapshotID, "manifest_path": manifestPath,
	})

	return manifest, nil
}

// buildSnapshotID embeds the session id so concurrent sessions
// capturing the same page_name at the same instant cannot collide.
func buildSnapshotID(pageName, sessionID string, at time.Time) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s_%s_%s", pageName, prefix, at.Format("20060102_150405"))
}

// writeFileFsync writes data to path and fsyncs before close, so the
// bytes are durable the moment the call returns successfully.
func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeFileAtomic writes data to a temp file, fsyncs, then renames it
// into place, so a reader never observes a partially-written manifest.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeFileFsync(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (m *Manager) publish(correlationID, sessionID, eventType string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type: eventType, CorrelationID: correlationID, SessionID: sessionID,
		Timestamp: time.Now(), Severity: eventbus.SeverityInfo, Payload: payload,
	})
}
