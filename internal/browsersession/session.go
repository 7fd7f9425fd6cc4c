// Package browsersession owns browser instances, tab contexts, session
// state persistence, and crash-safe cleanup across concurrent scraping
// sessions.
//
// Grounded on the browser automation server's internal/browser/session_manager.go:
// the same incognito-per-session isolation, element fingerprint registry,
// and cookie/storage fork/restore JS, generalized into an explicit state
// machine with a bounded graceful-termination sequence and swallowed
// per-step errors aggregated instead of silently discarded.
package browsersession

import (
	"time"
)

// Status is a Session's position in its lifecycle state machine.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive        Status = "active"
	StatusClosing        Status = "closing"
	StatusTerminated     Status = "terminated"
	StatusFailed          Status = "failed"
)

// Viewport is the fixed viewport size assigned to a session at creation.
type Viewport struct {
	Width  int
	Height int
}

// Session is the public metadata for a tracked browser session. A
// session exclusively owns its tab contexts: contexts cannot outlive
// the session that created them.
type Session struct {
	ID             string
	Status         Status
	CorrelationID  string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Viewport       Viewport
	Stealth        bool
	ContextIDs     []string
}

// TabContext is the public metadata for one browsing context within a
// session. DOMGeneration is the context's DOM generation as of its
// creation and is not updated afterwards; the live counter, which the
// selector engine reads to invalidate per-context element handle
// caches, is the context's element registry generation.
type TabContext struct {
	ID             string
	SessionID      string
	CurrentURL     string
	DOMGeneration  uint64
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// canTransition reports whether a session may move from from to to.
// failed is reachable from any non-terminal state; otherwise the
// machine only moves forward.
func canTransition(from, to Status) bool {
	if to == StatusFailed {
		return from != StatusTerminated && from != StatusFailed
	}
	switch from {
	case StatusInitializing:
		return to == StatusActive
	case StatusActive:
		return to == StatusActive || to == StatusClosing
	case StatusClosing:
		return to == StatusTerminated
	case StatusTerminated, StatusFailed:
		return false
	}
	return false
}
