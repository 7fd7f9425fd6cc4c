package selector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scrapcore/internal/domdriver"
	"scrapcore/internal/eventbus"
	"scrapcore/internal/selectorconfig"
)

// fakeDriver answers QueryAll per strategy kind from a scripted table so
// tests can exercise the priority-order fallback described in spec
// scenario 2 without a real browser.
type fakeDriver struct {
	byKind  map[domdriver.QueryKind][]*domdriver.Handle
	visible bool
	text    string

	clicks  []string
	fills   []string
	presses []string
	hovers  int
	scrolls int
	actErr  error
}

func (f *fakeDriver) QueryAll(ctx context.Context, q domdriver.Query, timeout time.Duration) ([]*domdriver.Handle, error) {
	return f.byKind[q.Kind], nil
}

func (f *fakeDriver) IsVisible(ctx context.Context, h *domdriver.Handle) (bool, error) {
	return f.visible, nil
}

func (f *fakeDriver) InnerText(ctx context.Context, h *domdriver.Handle) (string, error) {
	return f.text, nil
}

func (f *fakeDriver) Click(ctx context.Context, h *domdriver.Handle) error {
	if f.actErr != nil {
		return f.actErr
	}
	f.clicks = append(f.clicks, "click")
	return nil
}

func (f *fakeDriver) Fill(ctx context.Context, h *domdriver.Handle, text string) error {
	if f.actErr != nil {
		return f.actErr
	}
	f.fills = append(f.fills, text)
	return nil
}

func (f *fakeDriver) Press(ctx context.Context, h *domdriver.Handle, key string) error {
	if f.actErr != nil {
		return f.actErr
	}
	f.presses = append(f.presses, key)
	return nil
}

func (f *fakeDriver) Hover(ctx context.Context, h *domdriver.Handle) error {
	if f.actErr != nil {
		return f.actErr
	}
	f.hovers++
	return nil
}

func (f *fakeDriver) ScrollIntoView(ctx context.Context, h *domdriver.Handle) error {
	if f.actErr != nil {
		return f.actErr
	}
	f.scrolls++
	return nil
}

func writeDescriptorTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "article"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
title:
  strategies:
    - kind: css
      params: {selector: "h1.primary"}
      weight: 1.0
    - kind: xpath
      params: {expression: "//h1[@id='firstHeading']"}
      weight: 1.0
    - kind: text_anchor
      params: {text: "Heading"}
      weight: 1.0
`
	if err := os.WriteFile(filepath.Join(root, "article", "title.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T) (*Engine, *selectorconfig.Store) {
	t.Helper()
	root := t.TempDir()
	writeDescriptorTree(t, root)
	snap, err := selectorconfig.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	store := selectorconfig.NewStore()
	store.Swap(snap)
	return New(store, eventbus.New()), store
}

func TestResolveFallsBackToNextStrategy(t *testing.T) {
	engine, _ := newTestEngine(t)

	driver := &fakeDriver{
		byKind: map[domdriver.QueryKind][]*domdriver.Handle{
			domdriver.QueryXPath: {&domdriver.Handle{}},
		},
		visible: true,
	}

	tab := TabContext{ID: "ctx-1", Scope: "", Generation: func() uint64 { return 1 }}
	result, err := engine.Resolve(context.Background(), "article.title.title", tab, driver, "corr-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !result.Matched() {
		t.Fatal("expected a match")
	}
	if result.StrategyUsed != selectorconfig.KindXPath {
		t.Fatalf("strategy_used = %v, want xpath", result.StrategyUsed)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2 (css no_match, xpath matched)", len(result.Attempts))
	}
	if result.Attempts[0].Status != StatusNoMatch || result.Attempts[1].Status != StatusMatched {
		t.Fatalf("unexpected attempt statuses: %+v", result.Attempts)
	}
}

func TestResolveUnknownSelector(t *testing.T) {
	engine, _ := newTestEngine(t)
	tab := TabContext{ID: "ctx-1", Generation: func() uint64 { return 0 }}
	_, err := engine.Resolve(context.Background(), "does.not.exist", tab, &fakeDriver{}, "")
	if _, ok := err.(*UnknownSelectorError); !ok {
		t.Fatalf("expected UnknownSelectorError, got %v", err)
	}
}

func TestResolveExhaustsWithoutHandle(t *testing.T) {
	engine, _ := newTestEngine(t)
	driver := &fakeDriver{byKind: map[domdriver.QueryKind][]*domdriver.Handle{}}
	tab := TabContext{ID: "ctx-1", Generation: func() uint64 { return 1 }}

	result, err := engine.Resolve(context.Background(), "article.title.title", tab, driver, "corr-2")
	if err != nil {
		t.Fatalf("ResolutionExhausted must return a result, not an error: %v", err)
	}
	if result.Matched() || result.Confidence != 0 {
		t.Fatalf("expected no match and zero confidence, got %+v", result)
	}
	if len(result.Attempts) == 0 {
		t.Fatal("expected attempts recorded even on exhaustion")
	}
}

func TestResolveCacheHitOnSecondCall(t *testing.T) {
	engine, _ := newTestEngine(t)
	driver := &fakeDriver{
		byKind:  map[domdriver.QueryKind][]*domdriver.Handle{domdriver.QueryCSS: {&domdriver.Handle{}}},
		visible: true,
	}
	tab := TabContext{ID: "ctx-1", Generation: func() uint64 { return 1 }}

	first, err := engine.Resolve(context.Background(), "article.title.title", tab, driver, "corr-3")
	if err != nil || !first.Matched() {
		t.Fatalf("first resolve failed: %+v %v", first, err)
	}

	second, err := engine.Resolve(context.Background(), "article.title.title", tab, driver, "corr-4")
	if err != nil || !second.CacheHit {
		t.Fatalf("expected cache hit on second resolve: %+v %v", second, err)
	}
}
