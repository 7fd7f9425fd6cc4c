package selectorconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"bitbucket.org/creachadair/stringset"
	"gopkg.in/yaml.v3"
)

const (
	contextFileName = "_context.yaml"
	globalFileBase  = "_global"
)

type rawDescriptor struct {
	Description string      `yaml:"description"`
	Strategies  []Strategy  `yaml:"strategies"`
	Validation  *Validation `yaml:"validation,omitempty"`
	Confidence  *Confidence `yaml:"confidence,omitempty"`
	TimeoutMs   int         `yaml:"timeout_ms,omitempty"`
	RetryCount  *int        `yaml:"retry_count,omitempty"`
}

// Snapshot is an immutable, fully resolved view of all descriptors as of
// one load. Reads against a Snapshot never observe a partial mix with
// another load (spec §4.2 "swap").
type Snapshot struct {
	byName map[string]*Descriptor
}

// Get performs an O(1) lookup by semantic name. If context is non-empty
// and name is unqualified relative to it, the descriptor whose scope
// most closely matches context is preferred (best-effort: this
// implementation indexes by fully-qualified name, so context is used
// only to disambiguate bare leaf names against the current scope).
func (s *Snapshot) Get(name, context string) (*Descriptor, bool) {
	if d, ok := s.byName[name]; ok {
		return d, true
	}
	if context == "" {
		return nil, false
	}
	for scope := context; ; scope = parentScope(scope) {
		candidate := name
		if scope != "" {
			candidate = scope + "." + name
		}
		if d, ok := s.byName[candidate]; ok {
			return d, true
		}
		if scope == "" {
			break
		}
	}
	return nil, false
}

// Names returns every semantic name in the snapshot, for diagnostics.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	return names
}

// Store holds the active snapshot behind an atomic pointer so readers
// never observe a torn load (spec §4.2 "swap": "Readers observe either
// the old or new snapshot, never a partial mix").
type Store struct {
	active atomic.Pointer[Snapshot]
}

// NewStore returns a Store with an empty active snapshot.
func NewStore() *Store {
	st := &Store{}
	st.active.Store(&Snapshot{byName: map[string]*Descriptor{}})
	return st
}

// Active returns the currently active snapshot.
func (st *Store) Active() *Snapshot {
	return st.active.Load()
}

// Swap atomically replaces the active snapshot.
func (st *Store) Swap(snap *Snapshot) {
	st.active.Store(snap)
}

// Load scans the tree rooted at root, parses `_context.yaml` defaults
// and leaf descriptor files, resolves inheritance and template
// expansion, and returns an immutable snapshot. Load does not touch any
// Store: the caller decides when to Swap, so a failed load leaves the
// active snapshot as it was.
func Load(root string) (*Snapshot, error) {
	defaults := map[string]contextDefaults{"": {}}
	type pending struct {
		scope string
		name  string
		raw   rawDescriptor
		file  string
	}
	var pendings []pending

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".yaml" && filepath.Ext(path) != ".yml" {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		dirScope := dottedScope(filepath.Dir(rel))
		base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}

		if base == "_context" {
			var cd contextDefaults
			if err := yaml.Unmarshal(raw, &cd); err != nil {
				return &SchemaValidationError{File: path, Name: dirScope, Err: err}
			}
			defaults[dirScope] = mergeDefaults(defaults[dirScope], cd)
			return nil
		}

		var leaf map[string]rawDescriptor
		if err := yaml.Unmarshal(raw, &leaf); err != nil {
			return &SchemaValidationError{File: path, Name: rel, Err: err}
		}

		fileScope := dirScope
		if base != globalFileBase {
			fileScope = joinScope(dirScope, segmentFromFileBase(base))
		}

		for key, rd := range leaf {
			if isReserved(key) {
				return &ConfigurationError{Reason: "reserved segment used as descriptor name", Name: key}
			}
			pendings = append(pendings, pending{scope: fileScope, name: joinScope(fileScope, key), raw: rd, file: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := stringset.New()
	byName := make(map[string]*Descriptor, len(pendings))
	for _, p := range pendings {
		if seen.Contains(p.name) {
			return nil, &ConfigurationError{Reason: "duplicate semantic name", Name: p.name}
		}
		seen.Add(p.name)

		resolved, err := resolve(p.scope, p.name, p.raw, defaults)
		if err != nil {
			if _, ok := err.(*SchemaValidationError); ok {
				return nil, err
			}
			return nil, &SchemaValidationError{File: p.file, Name: p.name, Err: err}
		}
		byName[p.name] = resolved
	}

	return &Snapshot{byName: byName}, nil
}

func resolve(scope, name string, raw rawDescriptor, defaults map[string]contextDefaults) (*Descriptor, error) {
	eff := effectiveDefaults(scope, defaults)

	strategies := make([]Strategy, 0, len(raw.Strategies))
	for i, s := range raw.Strategies {
		if s.Template != "" {
			tmpl, ok := eff.Templates[s.Template]
			if !ok {
				return nil, fmt.Errorf("unknown strategy template %q", s.Template)
			}
			merged := tmpl
			if s.Kind != "" {
				merged.Kind = s.Kind
			}
			if s.Weight != 0 {
				merged.Weight = s.Weight
			}
			if s.Params != nil {
				p := make(map[string]string, len(tmpl.Params)+len(s.Params))
				for k, v := range tmpl.Params {
					p[k] = v
				}
				for k, v := range s.Params {
					p[k] = v
				}
				merged.Params = p
			}
			s = merged
		}
		if !validKinds[s.Kind] {
			return nil, fmt.Errorf("unknown strategy kind %q", s.Kind)
		}
		if err := s.validateParams(); err != nil {
			return nil, err
		}
		if s.Priority == 0 {
			s.Priority = i
		}
		if s.Weight == 0 {
			s.Weight = 1.0
		}
		strategies = append(strategies, s)
	}
	sort.SliceStable(strategies, func(a, b int) bool {
		return strategies[a].Priority < strategies[b].Priority
	})
	if len(strategies) == 0 {
		return nil, fmt.Errorf("descriptor has no strategies")
	}

	validation := raw.Validation
	if validation == nil {
		validation = eff.Validation
	}

	confidence := Confidence{Threshold: DefaultConfidenceThreshold}
	if eff.Confidence != nil {
		confidence = *eff.Confidence
	}
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}

	timeout := DefaultTimeoutMs
	if eff.TimeoutMs != 0 {
		timeout = eff.TimeoutMs
	}
	if raw.TimeoutMs != 0 {
		timeout = raw.TimeoutMs
	}

	retry := DefaultRetryCount
	if eff.RetryCount != nil {
		retry = *eff.RetryCount
	}
	if raw.RetryCount != nil {
		retry = *raw.RetryCount
	}

	return &Descriptor{
		Name:        name,
		Description: raw.Description,
		Context:     scope,
		Strategies:  strategies,
		Validation:  validation,
		Confidence:  confidence,
		TimeoutMs:   timeout,
		RetryCount:  retry,
	}, nil
}

// effectiveDefaults merges a scope's ancestor chain (self -> parent ->
// ... -> root), nearest wins.
func effectiveDefaults(scope string, all map[string]contextDefaults) contextDefaults {
	chain := scopeChain(scope)
	eff := contextDefaults{}
	for i := len(chain) - 1; i >= 0; i-- {
		eff = mergeDefaults(eff, all[chain[i]])
	}
	return eff
}

// scopeChain returns [scope, parent, ..., ""] (root last).
func scopeChain(scope string) []string {
	chain := []string{scope}
	for scope != "" {
		scope = parentScope(scope)
		chain = append(chain, scope)
	}
	return chain
}

func parentScope(scope string) string {
	idx := strings.LastIndex(scope, ".")
	if idx < 0 {
		return ""
	}
	return scope[:idx]
}

func dottedScope(dir string) string {
	if dir == "." || dir == "" {
		return ""
	}
	return strings.ReplaceAll(filepath.ToSlash(dir), "/", ".")
}

func joinScope(scope, segment string) string {
	if scope == "" {
		return segment
	}
	return scope + "." + segment
}

func segmentFromFileBase(base string) string {
	return base
}

func isReserved(segment string) bool {
	return segment == "_context" || segment == "_global"
}
