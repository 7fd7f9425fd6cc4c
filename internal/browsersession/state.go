package browsersession

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// schemaVersion is bumped whenever BrowserState's on-disk shape changes.
const schemaVersion = 1

// BrowserState is a serializable snapshot of one tab context: cookies,
// both storages, and the URL it was captured from. Keyed by
// (session_id, state_id) by its caller; versioned so future readers can
// detect and migrate older captures.
type BrowserState struct {
	SessionID      string                      `json:"session_id"`
	StateID        string                      `json:"state_id"`
	ContextID      string                      `json:"context_id"`
	URL            string                      `json:"url"`
	Cookies        []*proto.NetworkCookieParam `json:"cookies"`
	LocalStorage   string                      `json:"local_storage"`
	SessionStorage string                      `json:"session_storage"`
	CapturedAt     time.Time                   `json:"captured_at"`
	SchemaVersion  int                         `json:"schema_version"`
}

// snapshotStorage serializes one of window.localStorage/sessionStorage
// to a JSON object string. Failures degrade to "{}" rather than
// propagating, since a page that blocks storage access should not
// prevent the rest of a state capture.
//
// Grounded verbatim on the browser automation server's snapshotStorage
// helper (internal/browser/session_manager.go).
func snapshotStorage(page *rod.Page, store string) string {
	jsFunc := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) {
				out[key] = %s.getItem(key);
			}
			return JSON.stringify(out);
		} catch (e) {
			return "{}";
		}
	}`, store, store)

	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           jsFunc,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.String()
}

// restoreStorage replays previously captured localStorage/sessionStorage
// JSON back into page. Each storage is restored independently inside
// its own try/catch so a failure in one does not block the other.
func restoreStorage(page *rod.Page, localJSON, sessionJSON string) {
	_, _ = page.Evaluate(&rod.EvalOptions{
		JS: `
		(local, session) => {
			try {
				const l = JSON.parse(local || "{}");
				Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
			try {
				const s = JSON.parse(session || "{}");
				Object.entries(s).forEach(([k, v]) => sessionStorage.setItem(k, v));
			} catch (e) {}
		}
		`,
		JSArgs:       []interface{}{localJSON, sessionJSON},
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
}

// captureState snapshots page's cookies and both storages into a
// BrowserState value. Cookie retrieval failures propagate since an
// incomplete cookie jar silently dropped would make save_state lie
// about what it captured.
func captureState(page *rod.Page, sessionID, contextID, stateID string) (BrowserState, error) {
	cookiesRes, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return BrowserState{}, fmt.Errorf("get cookies: %w", err)
	}

	url := ""
	if info, infoErr := page.Info(); infoErr == nil && info != nil {
		url = info.URL
	}

	return BrowserState{
		SessionID:      sessionID,
		ContextID:      contextID,
		StateID:        stateID,
		URL:            url,
		Cookies:        cookiesRes.Cookies,
		LocalStorage:   snapshotStorage(page, "localStorage"),
		SessionStorage: snapshotStorage(page, "sessionStorage"),
		CapturedAt:     time.Now(),
		SchemaVersion:  schemaVersion,
	}, nil
}

// applyState restores a previously captured BrowserState onto page.
// Cookie restoration is best-effort, matching the original capture's
// best-effort storage restore.
func applyState(page *rod.Page, state BrowserState) {
	if len(state.Cookies) > 0 {
		_ = page.SetCookies(state.Cookies)
	}
	restoreStorage(page, state.LocalStorage, state.SessionStorage)
}
