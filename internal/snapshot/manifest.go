// Package snapshot produces, persists, and verifies durable page
// captures: HTML, an optional screenshot, and a checksum-protected
// manifest that downstream replay/verification consumers may assume is
// present and consistent the moment capture returns.
//
// Grounded on the browser automation server's own screenshot-to-disk
// handling (internal/mcp/smart_screenshot.go writes PNGs under a
// configured directory) and its session metadata persistence
// (internal/browser/session_manager.go persistSessions), but the
// manifest's write-tmp+fsync+rename durability contract has no teacher
// analogue — the teacher's own disk writes are plain os.WriteFile — so
// it is built directly from spec §4.6 using the same os.File/Sync
// primitives the teacher already imports.
package snapshot

import "time"

// SchemaVersion is bumped whenever Manifest's on-disk shape changes.
const SchemaVersion = 1

// ByteSizes records the size of each artifact a capture produced.
type ByteSizes struct {
	HTMLBytes       int64 `json:"html_bytes"`
	ScreenshotBytes int64 `json:"screenshot_bytes,omitempty"`
}

// Timings records how long each capture step took.
type Timings struct {
	HTMLMs       int64 `json:"html_ms"`
	ScreenshotMs int64 `json:"screenshot_ms,omitempty"`
	PersistMs    int64 `json:"persist_ms"`
}

// Manifest is the self-describing record of one page capture.
type Manifest struct {
	SnapshotID     string    `json:"snapshot_id"`
	SessionID      string    `json:"session_id"`
	ContextID      string    `json:"context_id"`
	CorrelationID  string    `json:"correlation_id"`
	PageName       string    `json:"page_name"`
	CapturedAt     time.Time `json:"captured_at"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	HTMLPath       string    `json:"html_path"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	Checksum       string    `json:"checksum"`
	ByteSizes      ByteSizes `json:"byte_sizes"`
	Timings        Timings   `json:"timings"`
	SchemaVersion  int       `json:"schema_version"`
}

// Report is the result of an integrity verification pass: booleans
// per invariant instead of the HTML bytes replay() returns.
type Report struct {
	ManifestPresent bool     `json:"manifest_present"`
	HTMLPresent     bool     `json:"html_present"`
	ChecksumMatches bool     `json:"checksum_matches"`
	WellFormed      bool     `json:"well_formed"`
	ExtractedTitle  string   `json:"extracted_title"`
	TitleMatches    bool     `json:"title_matches"`
	ScreenshotValid bool     `json:"screenshot_valid"`
	Manifest        Manifest `json:"manifest"`
}

// OK reports whether every checked invariant held. TitleMatches is
// informational only: a page's document.title can legitimately change
// after capture (e.g. a search results page set via script), so a title
// mismatch does not fail verification on its own.
func (r Report) OK() bool {
	return r.ManifestPresent && r.HTMLPresent && r.ChecksumMatches && r.WellFormed && r.ScreenshotValid
}
