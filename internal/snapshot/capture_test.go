package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeDriver struct {
	html       string
	screenshot []byte
	screenErr  error
}

func (f *fakeDriver) Content(ctx context.Context) (string, error) { return f.html, nil }
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return f.screenshot, f.screenErr
}

func TestCaptureWritesHTMLScreenshotAndManifest(t *testing.T) {
	dir := t.TempDir()
	mgr, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	driver := &fakeDriver{html: "<html><body>hi</body></html>", screenshot: []byte{0x89, 'P', 'N', 'G'}}
	manifest, err := mgr.Capture(context.Background(), driver, CaptureOptions{
		SessionID: "session-123", PageName: "search_results", URL: "https://example.test",
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if _, err := os.Stat(manifest.HTMLPath); err != nil {
		t.Fatalf("html file missing: %v", err)
	}
	if _, err := os.Stat(manifest.ScreenshotPath); err != nil {
		t.Fatalf("screenshot file missing: %v", err)
	}
	manifestPath := filepath.Join(dir, manifest.SnapshotID+".json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("manifest file missing: %v", err)
	}
	var onDisk Manifest
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Checksum != manifest.Checksum {
		t.Errorf("on-disk checksum %q != returned %q", onDisk.Checksum, manifest.Checksum)
	}
	if _, err := os.Stat(manifestPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected no leftover tmp manifest, stat err = %v", err)
	}
}

func TestCaptureSurvivesScreenshotFailure(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := New(dir, nil)

	driver := &fakeDriver{html: "<html></html>", screenErr: os.ErrClosed}
	manifest, err := mgr.Capture(context.Background(), driver, CaptureOptions{SessionID: "s1", PageName: "page"})
	if err != nil {
		t.Fatalf("capture should not fail on screenshot error: %v", err)
	}
	if manifest.ScreenshotPath != "" {
		t.Errorf("expected empty screenshot path, got %q", manifest.ScreenshotPath)
	}
}

func TestSnapshotIDEmbedsSessionID(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := New(dir, nil)
	driver := &fakeDriver{html: "<html></html>"}

	manifest, err := mgr.Capture(context.Background(), driver, CaptureOptions{SessionID: "abcdef1234", PageName: "home"})
	if err != nil {
		t.Fatal(err)
	}
	if got := manifest.SnapshotID; len(got) == 0 || got[:4] != "home" {
		t.Errorf("snapshot_id = %q, want it to start with page_name", got)
	}
	if got := manifest.SnapshotID; !strings.Contains(got, "_abcdef12_") {
		t.Errorf("snapshot_id = %q, want it to embed the session id prefix %q", got, "abcdef12")
	}
}
