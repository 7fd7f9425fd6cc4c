package browsersession

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/yosida95/uritemplate/v3"
	"go.uber.org/multierr"

	"scrapcore/internal/config"
	"scrapcore/internal/correlation"
	"scrapcore/internal/domdriver"
	"scrapcore/internal/eventbus"
	"scrapcore/internal/storage"
)

// tabContextRecord is the private backing for one TabContext: the live
// page, its driver facade, and its element registry.
type tabContextRecord struct {
	meta     TabContext
	page     *rod.Page
	facade   *domdriver.Facade
	registry *ElementRegistry
}

// sessionRecord is the private backing for one Session: its incognito
// browser context (the "subprocess handle" a graceful termination must
// explicitly close) and its tab contexts.
type sessionRecord struct {
	mu         sync.RWMutex
	meta       Session
	browserCtx *rod.Browser
	contexts   map[string]*tabContextRecord
}

// Manager owns the shared browser connection and every tracked session.
//
// Grounded on the browser automation server's SessionManager
// (internal/browser/session_manager.go): the same connect-or-launch
// Start, incognito-per-session isolation, and persisted-metadata reload,
// generalized into an explicit state machine with a bounded graceful
// termination sequence.
type Manager struct {
	cfg   config.BrowserConfig
	bus   *eventbus.Bus
	store *storage.Store

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
}

const sessionStoreKey = "sessions/active"

// New constructs a Manager. store may be nil, in which case session
// metadata is not persisted across restarts.
func New(cfg config.BrowserConfig, bus *eventbus.Bus, store *storage.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome instance or launches one per
// configuration, reusing a healthy existing connection if present.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			m.mu.Unlock()
			return nil
		}
		log.Printf("session manager: stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}
	m.mu.Unlock()

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			fallback := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		return fmt.Errorf("no debugger_url or launch command configured")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.mu.Unlock()

	log.Printf("session manager: browser connected at %s", controlURL)
	return nil
}

// ControlURL returns the current DevTools websocket URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected reports whether a browser connection is currently held.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown gracefully terminates every tracked session and then closes
// the shared browser connection. Per-session termination errors are
// aggregated, not allowed to stop the sweep.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs error
	for _, id := range ids {
		if err := m.Terminate(ctx, id, correlation.New()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close browser: %w", err))
		}
		m.browser = nil
	}
	m.controlURL = ""
	log.Printf("session manager: shutdown complete")
	return errs
}

// List returns lightweight metadata for all tracked sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		rec.mu.RLock()
		out = append(out, rec.meta)
		rec.mu.RUnlock()
	}
	return out
}

// GetSession returns a session's current metadata.
func (m *Manager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.meta, true
}

// UpdateMetadata applies updater to a session's metadata in place.
func (m *Manager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.meta = updater(rec.meta)
	rec.mu.Unlock()
}

// Facade returns the DOM driver facade bound to a session's default
// (first-created) tab context.
func (m *Manager) Facade(sessionID string) (*domdriver.Facade, *ElementRegistry, bool) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	for _, ctxRec := range rec.contexts {
		return ctxRec.facade, ctxRec.registry, true
	}
	return nil, nil, false
}

// Generation returns a callback suitable for selector.TabContext.Generation,
// reading the live dom_generation_counter for a session's default context.
func (m *Manager) Generation(sessionID string) func() uint64 {
	return func() uint64 {
		m.mu.RLock()
		rec, ok := m.sessions[sessionID]
		m.mu.RUnlock()
		if !ok {
			return 0
		}
		rec.mu.RLock()
		defer rec.mu.RUnlock()
		for _, ctxRec := range rec.contexts {
			return ctxRec.registry.GenerationID()
		}
		return 0
	}
}

// CreateSession opens a new incognito browser context and tracks it as
// an active Session with one default tab context navigated to url.
func (m *Manager) CreateSession(ctx context.Context, requestedURL string, correlationID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, &BrowserNotConnectedError{}
	}
	if correlationID == "" {
		correlationID = correlation.New()
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	url := m.resolveURL(requestedURL)
	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("session manager: warning: failed to set viewport: %v", err)
	}

	if m.cfg.Stealth {
		applyStealth(page)
	}

	_ = page.Timeout(m.cfg.NavigationTimeout()).Navigate(url)

	sessionID := uuid.NewString()
	contextID := uuid.NewString()
	now := time.Now()

	registry := NewElementRegistry()
	rec := &sessionRecord{
		meta: Session{
			ID:             sessionID,
			Status:         StatusActive,
			CorrelationID:  correlationID,
			CreatedAt:      now,
			LastActivityAt: now,
			Viewport:       Viewport{Width: m.cfg.GetViewportWidth(), Height: m.cfg.GetViewportHeight()},
			Stealth:        m.cfg.Stealth,
			ContextIDs:     []string{contextID},
		},
		browserCtx: incognito,
		contexts: map[string]*tabContextRecord{
			contextID: {
				meta:     TabContext{ID: contextID, SessionID: sessionID, CurrentURL: url, CreatedAt: now, LastActivityAt: now},
				page:     page,
				facade:   domdriver.New(page, m.bus),
				registry: registry,
			},
		},
	}

	m.mu.Lock()
	m.sessions[sessionID] = rec
	m.mu.Unlock()

	m.publish(correlationID, sessionID, eventbus.EventSessionCreated, map[string]interface{}{"url": url})
	_ = m.persistSessions()

	meta := rec.meta
	return &meta, nil
}

// Attach binds to an already-open page by its CDP target id, tracking
// it as a new session.
func (m *Manager) Attach(ctx context.Context, targetID string, correlationID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, &BrowserNotConnectedError{}
	}
	if correlationID == "" {
		correlationID = correlation.New()
	}

	page, err := browser.Context(ctx).Timeout(m.cfg.AttachTimeout()).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	sessionID := uuid.NewString()
	contextID := uuid.NewString()
	now := time.Now()

	rec := &sessionRecord{
		meta: Session{
			ID: sessionID, Status: StatusActive, CorrelationID: correlationID,
			CreatedAt: now, LastActivityAt: now, ContextIDs: []string{contextID},
		},
		contexts: map[string]*tabContextRecord{
			contextID: {
				meta:     TabContext{ID: contextID, SessionID: sessionID, CreatedAt: now, LastActivityAt: now},
				page:     page,
				facade:   domdriver.New(page, m.bus),
				registry: NewElementRegistry(),
			},
		},
	}

	m.mu.Lock()
	m.sessions[sessionID] = rec
	m.mu.Unlock()

	m.publish(correlationID, sessionID, eventbus.EventSessionCreated, map[string]interface{}{"attached_target": targetID})
	_ = m.persistSessions()

	meta := rec.meta
	return &meta, nil
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

// resolveURL resolves navigation targets to local fixture files when
// test mode is enabled, so a flow can be exercised deterministically and
// offline. Two forms are accepted: a bare stub identifier (e.g.
// "search_stub"), resolved directly to "<StubsDir>/<id>.html"; or a
// {remote_url}-templated URL, expanded via uritemplate with remote_url
// bound to a local stub file URL. Outside test mode, or when requested
// is already a real scheme (http(s)://, file://), it passes through
// unchanged.
func (m *Manager) resolveURL(requested string) string {
	if !m.cfg.TestMode {
		return requested
	}
	if strings.Contains(requested, "://") {
		if !strings.Contains(requested, "{remote_url}") {
			return requested
		}
		tpl, err := uritemplate.New(requested)
		if err != nil {
			return requested
		}
		stub := filepath.Join(m.cfg.StubsDir, "default.html")
		expanded, err := tpl.Expand(uritemplate.Values{
			"remote_url": uritemplate.String("file://" + stub),
		})
		if err != nil {
			return requested
		}
		return expanded
	}
	// Bare identifier: treat as a stub name under StubsDir.
	stub := filepath.Join(m.cfg.StubsDir, requested+".html")
	return "file://" + stub
}

func (m *Manager) persistSessions() error {
	if m.store == nil {
		return nil
	}
	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		rec.mu.RLock()
		sessions = append(sessions, rec.meta)
		rec.mu.RUnlock()
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	return m.store.Store(sessionStoreKey, data, "")
}

func (m *Manager) loadSessions() error {
	if m.store == nil {
		return nil
	}
	data, ok, err := m.store.Load(sessionStoreKey)
	if err != nil || !ok {
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		s.Status = StatusTerminated
		m.sessions[s.ID] = &sessionRecord{meta: s, contexts: map[string]*tabContextRecord{}}
	}
	return nil
}
