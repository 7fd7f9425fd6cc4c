package browsersession

import (
	"context"
	"fmt"
	"log"
	"sort"

	"scrapcore/internal/resourcemon"
)

// ActiveSessions implements resourcemon.SessionSource.
func (m *Manager) ActiveSessions() []resourcemon.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]resourcemon.SessionInfo, 0, len(m.sessions))
	for _, rec := range m.sessions {
		rec.mu.RLock()
		if rec.meta.Status == StatusActive {
			out = append(out, resourcemon.SessionInfo{ID: rec.meta.ID, LastActivityAt: rec.meta.LastActivityAt})
		}
		rec.mu.RUnlock()
	}
	return out
}

// RequestCleanup implements resourcemon.Cleaner, applying one of the
// three tiered remediation actions the resource monitor may request
// on a critical alert (spec §4.5).
func (m *Manager) RequestCleanup(ctx context.Context, sessionID string, level resourcemon.CleanupLevel, correlationID string) error {
	switch level {
	case resourcemon.CleanupSoft:
		return m.clearIdleHandles(sessionID)
	case resourcemon.CleanupModerate:
		return m.closeLRUContexts(sessionID)
	case resourcemon.CleanupAggressive:
		return m.Terminate(ctx, sessionID, correlationID)
	default:
		return fmt.Errorf("unknown cleanup level: %s", level)
	}
}

// clearIdleHandles drops every tab context's cached element
// fingerprints, the cheapest reclaim: no contexts are closed.
func (m *Manager) clearIdleHandles(sessionID string) error {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return &UnknownSessionError{SessionID: sessionID}
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	for _, c := range rec.contexts {
		c.registry.Clear()
	}
	return nil
}

// closeLRUContexts closes every tab context in a session except the
// most recently active one, keeping the session alive.
func (m *Manager) closeLRUContexts(sessionID string) error {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.contexts) <= 1 {
		return nil
	}

	ids := make([]string, 0, len(rec.contexts))
	for id := range rec.contexts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return rec.contexts[ids[i]].meta.LastActivityAt.Before(rec.contexts[ids[j]].meta.LastActivityAt)
	})

	for _, id := range ids[:len(ids)-1] {
		if err := rec.contexts[id].page.Close(); err != nil {
			log.Printf("session %s: warn: close LRU context %s: %v", sessionID, id, err)
		}
		delete(rec.contexts, id)
	}
	return nil
}
