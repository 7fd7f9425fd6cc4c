// Package domdriver is the only component permitted to touch the
// headless browser. It exposes a small capability surface (go, query,
// wait, evaluate, click, fill, screenshot, ...) over go-rod so the
// selector engine and session manager never import rod directly.
//
// Grounded on the browser automation server's own rod call sites
// (internal/browser/session_manager.go, internal/mcp/helpers.go,
// internal/mcp/navigation_elements.go) for exact API usage, generalized
// behind typed errors instead of ad hoc string checks.
package domdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"scrapcore/internal/eventbus"
)

// Handle is an opaque reference to a located DOM element.
type Handle struct {
	element *rod.Element
}

// Rect is an element's bounding box in page coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Facade wraps one rod.Page (one tab context) with the capability set
// the selector engine and interaction helpers need.
type Facade struct {
	page *rod.Page
	bus  *eventbus.Bus
}

// New wraps page for use by higher-level components.
func New(page *rod.Page, bus *eventbus.Bus) *Facade {
	return &Facade{page: page, bus: bus}
}

func (f *Facade) emit(correlationID, eventType string, payload map[string]interface{}) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(eventbus.Event{
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Severity:      eventbus.SeverityDebug,
		Payload:       payload,
	})
}

// Goto navigates the tab to url and waits for the requested readiness
// signal, bounded by timeout.
func (f *Facade) Goto(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) error {
	p := f.page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return ErrNavigationInFlight("goto", err)
	}

	var err error
	switch wait {
	case WaitDOMContent:
		err = p.WaitDOMStable(200*time.Millisecond, 0)
	case WaitNetworkIdle:
		err = p.WaitIdle(timeout)
	default:
		err = p.WaitLoad()
	}
	f.emit("", eventbus.EventContextCreated, map[string]interface{}{"op": "goto", "url": url})
	if err != nil {
		return ErrTimeout("goto.wait", err)
	}
	return nil
}

func (f *Facade) selector(q Query) (string, error) {
	switch q.Kind {
	case QueryCSS:
		return q.CSS, nil
	case QueryAttributeMatch:
		return fmt.Sprintf("[%s=%q]", q.AttrName, q.AttrValue), nil
	case QueryRole:
		return fmt.Sprintf("[role=%q]", q.Role), nil
	default:
		return "", fmt.Errorf("selector not applicable for kind %s", q.Kind)
	}
}

// QueryAll returns every element matching q, bounded by timeout.
func (f *Facade) QueryAll(ctx context.Context, q Query, timeout time.Duration) ([]*Handle, error) {
	p := f.page.Context(ctx).Timeout(timeout)

	var elements rod.Elements
	var err error
	switch q.Kind {
	case QueryXPath:
		elements, err = p.ElementsX(q.XPath)
	case QueryTextAnchor:
		elements, err = p.Elements("*")
		if err == nil {
			elements = filterByText(elements, q.Text)
		}
	default:
		var sel string
		sel, err = f.selector(q)
		if err == nil {
			elements, err = p.Elements(sel)
		}
	}
	if err != nil {
		return nil, ErrNotFound("query_all", err)
	}

	handles := make([]*Handle, 0, len(elements))
	for _, el := range elements {
		handles = append(handles, &Handle{element: el})
	}
	return handles, nil
}

func filterByText(elements rod.Elements, text string) rod.Elements {
	if text == "" {
		return elements
	}
	var out rod.Elements
	for _, el := range elements {
		t, err := el.Text()
		if err == nil && containsFold(t, text) {
			out = append(out, el)
		}
	}
	return out
}

// QueryOne returns the first element matching q, or a NotFound error.
func (f *Facade) QueryOne(ctx context.Context, q Query, timeout time.Duration) (*Handle, error) {
	p := f.page.Context(ctx).Timeout(timeout)

	var el *rod.Element
	var err error
	switch q.Kind {
	case QueryXPath:
		el, err = p.ElementX(q.XPath)
	case QueryTextAnchor:
		el, err = p.ElementR("*", q.Text)
	default:
		var sel string
		sel, err = f.selector(q)
		if err == nil {
			el, err = p.Element(sel)
		}
	}
	if err != nil {
		return nil, ErrNotFound("query_one", err)
	}
	return &Handle{element: el}, nil
}

// WaitFor blocks until q matches at least one element or timeout elapses.
func (f *Facade) WaitFor(ctx context.Context, q Query, timeout time.Duration) (*Handle, error) {
	return f.QueryOne(ctx, q, timeout)
}

// Evaluate runs script in the page and returns the unwrapped JS value.
// Arguments are boxed through gson.New before being handed to rod, the
// same conversion the wider pack uses when building gson.JSON-typed
// values for rod's CDP-facing APIs.
func (f *Facade) Evaluate(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	boxed := make([]interface{}, len(args))
	for i, a := range args {
		boxed[i] = gson.New(a)
	}
	res, err := f.page.Context(ctx).Eval(script, boxed...)
	if err != nil {
		return nil, ErrCrashed("evaluate", err)
	}
	return res.Value.Val(), nil
}

// Content returns the page's current serialized HTML.
func (f *Facade) Content(ctx context.Context) (string, error) {
	html, err := f.page.Context(ctx).HTML()
	if err != nil {
		return "", ErrCrashed("content", err)
	}
	return html, nil
}

// Screenshot captures a best-effort PNG of the current viewport.
func (f *Facade) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := f.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, ErrCrashed("screenshot", err)
	}
	return data, nil
}

// Click performs a left mouse click on the element referenced by h.
func (f *Facade) Click(ctx context.Context, h *Handle) error {
	if err := h.element.Context(ctx).Click("left", 1); err != nil {
		return ErrDetached("click", err)
	}
	return nil
}

// Fill clears the element's current value and types text into it.
func (f *Facade) Fill(ctx context.Context, h *Handle, text string) error {
	el := h.element.Context(ctx)
	_ = el.SelectAllText()
	if err := el.Input(""); err != nil {
		return ErrDetached("fill.clear", err)
	}
	if err := el.Input(text); err != nil {
		return ErrDetached("fill", err)
	}
	return nil
}

// keyMap maps the common key names an interaction payload carries to
// rod's input.Key constants. Single characters fall through to their rune
// value. Grounded on the teacher's press_key tool key table.
var keyMap = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Space":      input.Space,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

// Press focuses the element and sends key through the page's keyboard.
func (f *Facade) Press(ctx context.Context, h *Handle, key string) error {
	el := h.element.Context(ctx)
	if err := el.Focus(); err != nil {
		return ErrDetached("press.focus", err)
	}

	k, ok := keyMap[key]
	if !ok {
		if len(key) != 1 {
			return ErrDetached("press", fmt.Errorf("unknown key %q", key))
		}
		k = input.Key(rune(key[0]))
	}
	if err := el.Page().Context(ctx).Keyboard.Press(k); err != nil {
		return ErrDetached("press", err)
	}
	return nil
}

// Hover moves the pointer over the element, triggering any hover state.
func (f *Facade) Hover(ctx context.Context, h *Handle) error {
	if err := h.element.Context(ctx).Hover(); err != nil {
		return ErrDetached("hover", err)
	}
	return nil
}

// ScrollIntoView scrolls the page so the element is within the viewport.
func (f *Facade) ScrollIntoView(ctx context.Context, h *Handle) error {
	if err := h.element.Context(ctx).ScrollIntoView(); err != nil {
		return ErrDetached("scroll_into_view", err)
	}
	return nil
}

// Attribute reads a DOM attribute, returning nil if it is not present.
func (f *Facade) Attribute(ctx context.Context, h *Handle, name string) (*string, error) {
	val, err := h.element.Context(ctx).Attribute(name)
	if err != nil {
		return nil, ErrDetached("attribute", err)
	}
	return val, nil
}

// InnerText returns the element's trimmed visible text.
func (f *Facade) InnerText(ctx context.Context, h *Handle) (string, error) {
	text, err := h.element.Context(ctx).Text()
	if err != nil {
		return "", ErrDetached("inner_text", err)
	}
	return strings.TrimSpace(text), nil
}

// BoundingBox returns the element's current box, or nil if it has none
// (e.g. display:none).
func (f *Facade) BoundingBox(ctx context.Context, h *Handle) (*Rect, error) {
	shape, err := h.element.Context(ctx).Shape()
	if err != nil {
		return nil, ErrDetached("bounding_box", err)
	}
	if shape == nil {
		return nil, nil
	}
	box := shape.Box()
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// IsVisible reports whether the element is currently rendered and
// visible to the user.
func (f *Facade) IsVisible(ctx context.Context, h *Handle) (bool, error) {
	visible, err := h.element.Context(ctx).Visible()
	if err != nil {
		return false, ErrDetached("is_visible", err)
	}
	return visible, nil
}

// Dispose releases resources associated with h. Element handles in rod
// are garbage collected with the page; Dispose exists so callers have a
// single place to drop references and so future driver backends with
// explicit handle lifetimes have somewhere to hook in.
func (f *Facade) Dispose(h *Handle) {
	h.element = nil
}

func containsFold(haystack, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
