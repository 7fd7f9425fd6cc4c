package browsersession

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"scrapcore/internal/correlation"
	"scrapcore/internal/eventbus"
)

// terminationBudget bounds how long the graceful sequence may run before
// a caller should fall back to ForceCleanup.
const terminationBudget = 5 * time.Second

// Terminate runs the graceful termination sequence: close, then
// terminated. Each step's failure is logged and aggregated rather than
// aborting the remaining steps, so a stuck storage write never leaves a
// page or browser context leaked.
func (m *Manager) Terminate(ctx context.Context, sessionID string, correlationID string) error {
	if correlationID == "" {
		correlationID = correlation.New()
	}

	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.Lock()
	if rec.meta.Status == StatusTerminated {
		rec.mu.Unlock()
		return nil // idempotent
	}
	if !canTransition(rec.meta.Status, StatusClosing) {
		rec.mu.Unlock()
		return &SessionClosingError{SessionID: sessionID}
	}
	rec.meta.Status = StatusClosing
	contexts := make([]*tabContextRecord, 0, len(rec.contexts))
	for _, c := range rec.contexts {
		contexts = append(contexts, c)
	}
	browserCtx := rec.browserCtx
	rec.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.runTerminationSteps(sessionID, contexts, browserCtx) }()

	var stepErr error
	select {
	case stepErr = <-done:
	case <-time.After(terminationBudget):
		log.Printf("session %s: graceful termination exceeded budget, forcing cleanup", sessionID)
		return m.ForceCleanup(sessionID)
	case <-ctx.Done():
		return m.ForceCleanup(sessionID)
	}

	rec.mu.Lock()
	rec.meta.Status = StatusTerminated
	rec.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.publish(correlationID, sessionID, eventbus.EventSessionTerminated, nil)
	_ = m.persistSessions()
	return stepErr
}

// runTerminationSteps executes steps 2-4 of the graceful sequence:
// per-context state save + close, then the session's browser context,
// then a guarded final close in case the first one raced a crash.
func (m *Manager) runTerminationSteps(sessionID string, contexts []*tabContextRecord, browserCtx *rod.Browser) error {
	var errs error

	for _, c := range contexts {
		if m.cfg.AutoPersistState {
			if _, err := captureState(c.page, sessionID, c.meta.ID, "auto"); err != nil {
				log.Printf("session %s: auto-persist state failed for context %s: %v", sessionID, c.meta.ID, err)
				errs = multierr.Append(errs, fmt.Errorf("save_state %s: %w", c.meta.ID, err))
			}
		}
		if err := c.page.Close(); err != nil {
			log.Printf("session %s: warn: close context %s: %v", sessionID, c.meta.ID, err)
			errs = multierr.Append(errs, fmt.Errorf("close context %s: %w", c.meta.ID, err))
		}
	}

	if browserCtx != nil {
		if err := browserCtx.Close(); err != nil {
			log.Printf("session %s: warn: close browser context: %v", sessionID, err)
			errs = multierr.Append(errs, fmt.Errorf("close browser context: %w", err))
		}
		// Guarded second close: rod's incognito context teardown can race
		// the host's pipe teardown, leaving the first Close's result
		// ambiguous. A second attempt either no-ops or surfaces the same
		// already-closed error, which is swallowed here rather than
		// failing an otherwise-successful termination.
		if err := browserCtx.Close(); err != nil {
			log.Printf("session %s: final subprocess handle close (expected if already closed): %v", sessionID, err)
		}
	}

	return errs
}

// ForceCleanup hard-terminates a session, ignoring errors from each
// step. Used when the graceful sequence exceeds its time budget.
func (m *Manager) ForceCleanup(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.Lock()
	rec.meta.Status = StatusTerminated
	for _, c := range rec.contexts {
		_ = c.page.Close()
	}
	if rec.browserCtx != nil {
		_ = rec.browserCtx.Close()
	}
	rec.mu.Unlock()

	m.publish("", sessionID, eventbus.EventSessionTerminated, map[string]interface{}{"forced": true})
	_ = m.persistSessions()
	return nil
}

// SaveState captures a tab context's cookies and storages. stateID is
// generated if empty.
func (m *Manager) SaveState(sessionID, contextID, stateID string) (BrowserState, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return BrowserState{}, &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.RLock()
	ctxRec, ok := rec.contexts[contextID]
	rec.mu.RUnlock()
	if !ok {
		return BrowserState{}, &UnknownContextError{SessionID: sessionID, ContextID: contextID}
	}

	if stateID == "" {
		stateID = uuid.NewString()
	}
	return captureState(ctxRec.page, sessionID, contextID, stateID)
}

// RestoreState applies a previously captured BrowserState back onto its
// originating tab context.
func (m *Manager) RestoreState(sessionID, contextID string, state BrowserState) error {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.RLock()
	ctxRec, ok := rec.contexts[contextID]
	rec.mu.RUnlock()
	if !ok {
		return &UnknownContextError{SessionID: sessionID, ContextID: contextID}
	}

	applyState(ctxRec.page, state)
	return nil
}

// ForkSession clones a session's cookies and storages into a new
// incognito session, optionally navigating it to a different url.
func (m *Manager) ForkSession(ctx context.Context, sessionID, url, correlationID string) (*Session, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, &UnknownSessionError{SessionID: sessionID}
	}

	rec.mu.RLock()
	var srcCtx *tabContextRecord
	for _, c := range rec.contexts {
		srcCtx = c
		break
	}
	rec.mu.RUnlock()
	if srcCtx == nil {
		return nil, &UnknownContextError{SessionID: sessionID}
	}

	cookiesRes, err := proto.NetworkGetCookies{}.Call(srcCtx.page)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	localJSON := snapshotStorage(srcCtx.page, "localStorage")
	sessionJSON := snapshotStorage(srcCtx.page, "sessionStorage")

	targetURL := url
	if targetURL == "" {
		targetURL = srcCtx.meta.CurrentURL
		if targetURL == "" {
			targetURL = "about:blank"
		}
	}

	dest, err := m.CreateSession(ctx, targetURL, correlationID)
	if err != nil {
		return nil, fmt.Errorf("create forked session: %w", err)
	}

	m.mu.RLock()
	destRec := m.sessions[dest.ID]
	m.mu.RUnlock()
	if destRec == nil {
		return dest, nil
	}

	rec.mu.RLock()
	var destCtx *tabContextRecord
	destRec.mu.RLock()
	for _, c := range destRec.contexts {
		destCtx = c
		break
	}
	destRec.mu.RUnlock()
	rec.mu.RUnlock()
	if destCtx == nil {
		return dest, nil
	}

	if len(cookiesRes.Cookies) > 0 {
		_ = destCtx.page.SetCookies(toCookieParams(cookiesRes.Cookies))
	}
	restoreStorage(destCtx.page, localJSON, sessionJSON)

	m.UpdateMetadata(dest.ID, func(s Session) Session {
		return s
	})
	_ = m.persistSessions()
	return dest, nil
}

func toCookieParams(cookies []*proto.NetworkCookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
			SameSite: c.SameSite, Priority: c.Priority,
		})
	}
	return out
}

// EvictRegistryOnNavigate clears a context's element registry, called
// by callers that observe a navigation outside of CreateSession (e.g.
// the scheduler replaying a site flow step).
func (m *Manager) EvictRegistryOnNavigate(sessionID, contextID string) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.RLock()
	ctxRec, ok := rec.contexts[contextID]
	rec.mu.RUnlock()
	if ok {
		ctxRec.registry.Clear()
	}
}
