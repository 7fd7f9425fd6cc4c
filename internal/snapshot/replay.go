package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ManifestMissingError is returned when a manifest path does not exist.
type ManifestMissingError struct {
	Path string
}

func (e *ManifestMissingError) Error() string {
	return fmt.Sprintf("snapshot manifest missing: %s", e.Path)
}

// IntegrityError is returned when a snapshot's stored checksum does not
// match the HTML bytes on disk.
type IntegrityError struct {
	SnapshotID string
	Want, Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("snapshot %s: checksum mismatch (want %s, got %s)", e.SnapshotID, e.Want, e.Got)
}

// Replay reads a manifest, loads its HTML, and re-validates the
// checksum, returning both to the caller for offline inspection.
func Replay(manifestPath string) (string, Manifest, error) {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		return "", Manifest{}, err
	}

	html, err := os.ReadFile(manifest.HTMLPath)
	if err != nil {
		return "", manifest, fmt.Errorf("read html %s: %w", manifest.HTMLPath, err)
	}

	sum := sha256.Sum256(html)
	got := hex.EncodeToString(sum[:])
	if got != manifest.Checksum {
		return "", manifest, &IntegrityError{SnapshotID: manifest.SnapshotID, Want: manifest.Checksum, Got: got}
	}

	return string(html), manifest, nil
}

// Verify performs the same checks as Replay but returns a Report of
// booleans rather than the HTML bytes, for integrity sweeps that don't
// need the page content itself.
func Verify(manifestPath string) (Report, error) {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		if _, ok := err.(*ManifestMissingError); ok {
			return Report{ManifestPresent: false}, nil
		}
		return Report{}, err
	}

	report := Report{ManifestPresent: true, Manifest: manifest}

	html, err := os.ReadFile(manifest.HTMLPath)
	if err != nil {
		return report, nil
	}
	report.HTMLPresent = true

	sum := sha256.Sum256(html)
	report.ChecksumMatches = hex.EncodeToString(sum[:]) == manifest.Checksum

	wellFormed, title, err := inspectHTML(string(html))
	report.WellFormed = err == nil && wellFormed
	report.ExtractedTitle = title
	report.TitleMatches = report.WellFormed && title == manifest.Title

	report.ScreenshotValid = true
	if manifest.ScreenshotPath != "" {
		if _, err := os.Stat(manifest.ScreenshotPath); err != nil {
			report.ScreenshotValid = false
		}
	}

	return report, nil
}

func readManifest(manifestPath string) (Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, &ManifestMissingError{Path: manifestPath}
		}
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	return manifest, nil
}

// ParseDocument parses replayed HTML for structured inspection by
// offline consumers (e.g. a verifier checking a page still contains
// its expected landmarks).
func ParseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// SelectAll runs a raw CSS selector against a parsed document via
// cascadia directly, for callers that already hold compiled selectors
// instead of querying through goquery's own Find.
func SelectAll(doc *goquery.Document, cssSelector string) ([]string, error) {
	sel, err := cascadia.Compile(cssSelector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", cssSelector, err)
	}
	var out []string
	for _, n := range cascadia.QueryAll(doc.Get(0), sel) {
		out = append(out, goquery.NewDocumentFromNode(n).Text())
	}
	return out, nil
}

// inspectHTML parses replayed HTML with goquery and confirms a root
// <html> element survived (via a direct cascadia query, for callers that
// want the compiled-selector path rather than goquery's Find), returning
// its <title> text for drift comparison against the manifest's recorded
// title. The underlying HTML5 parser is forgiving by design — it
// synthesizes a minimal tree even for garbage input — so wellFormed is a
// sanity check against a read/parse failure, not a markup linter.
func inspectHTML(html string) (wellFormed bool, title string, err error) {
	doc, err := ParseDocument(html)
	if err != nil {
		return false, "", err
	}
	roots, err := SelectAll(doc, "html")
	if err != nil {
		return false, "", err
	}
	if len(roots) == 0 {
		return false, "", nil
	}
	return true, strings.TrimSpace(doc.Find("title").Text()), nil
}
