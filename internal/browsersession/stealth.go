package browsersession

import (
	"log"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// applyStealth injects anti-detection patches into every future document
// load on page. Anti-detection masking sits outside session lifecycle
// semantics proper, so failures here are logged and swallowed rather
// than propagated: a session with stealth half-applied is still usable.
//
// Grounded on the purifying scraper's stealth injection at page
// acquisition time (scraper/page.go), lifted from a per-request flag to
// a per-session one applied once at session creation.
func applyStealth(page *rod.Page) {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		log.Printf("session: stealth injection failed, proceeding without it: %v", err)
	}
}
