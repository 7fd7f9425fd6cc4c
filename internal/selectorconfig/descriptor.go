// Package selectorconfig loads semantic selector descriptors from a tree
// of declarative YAML files, resolves scope inheritance and strategy
// templates, and hands out immutable, atomically-swappable snapshots.
//
// Grounded on the layered-merge idiom in the browser automation server's
// internal/config/config.go (defaults <- workspace <- explicit), applied
// here to per-scope descriptor defaults instead of process configuration.
package selectorconfig

import "fmt"

// StrategyKind enumerates how a Strategy locates an element.
type StrategyKind string

const (
	KindCSS            StrategyKind = "css"
	KindXPath          StrategyKind = "xpath"
	KindTextAnchor     StrategyKind = "text_anchor"
	KindAttributeMatch StrategyKind = "attribute_match"
	KindRole           StrategyKind = "role"
)

var validKinds = map[StrategyKind]bool{
	KindCSS: true, KindXPath: true, KindTextAnchor: true,
	KindAttributeMatch: true, KindRole: true,
}

// Strategy is one tagged way to locate an element, with a static
// credibility weight contributing to confidence scoring.
type Strategy struct {
	Kind     StrategyKind      `yaml:"kind"`
	Template string            `yaml:"template,omitempty"`
	Params   map[string]string `yaml:"params,omitempty"`
	Priority int               `yaml:"priority,omitempty"`
	Weight   float64           `yaml:"weight"`
}

func (s Strategy) validateParams() error {
	switch s.Kind {
	case KindCSS:
		if s.Params["selector"] == "" {
			return fmt.Errorf("css strategy requires params.selector")
		}
	case KindXPath:
		if s.Params["expression"] == "" {
			return fmt.Errorf("xpath strategy requires params.expression")
		}
	case KindTextAnchor:
		if s.Params["text"] == "" {
			return fmt.Errorf("text_anchor strategy requires params.text")
		}
	case KindAttributeMatch:
		if s.Params["name"] == "" {
			return fmt.Errorf("attribute_match strategy requires params.name")
		}
	case KindRole:
		if s.Params["role"] == "" {
			return fmt.Errorf("role strategy requires params.role")
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	return nil
}

// Validation holds optional per-descriptor validation rules. The selector
// engine checks Required, MinLength and MaxLength against each
// candidate's inner text; Type, Pattern, MinValue and MaxValue are
// loaded but not checked.
type Validation struct {
	Required  bool    `yaml:"required,omitempty"`
	Type      string  `yaml:"type,omitempty"`
	Pattern   string  `yaml:"pattern,omitempty"`
	MinLength int     `yaml:"min_length,omitempty"`
	MaxLength int     `yaml:"max_length,omitempty"`
	MinValue  float64 `yaml:"min_value,omitempty"`
	MaxValue  float64 `yaml:"max_value,omitempty"`
}

// Confidence holds the acceptance threshold for a descriptor's scoring.
type Confidence struct {
	Threshold float64 `yaml:"threshold"`
}

// Descriptor is the fully resolved, immutable definition of a semantic
// selector: its strategies, validation, and retry/timeout policy.
type Descriptor struct {
	Name        string
	Description string      `yaml:"description"`
	Context     string      `yaml:"context"`
	Strategies  []Strategy  `yaml:"strategies"`
	Validation  *Validation `yaml:"validation,omitempty"`
	Confidence  Confidence  `yaml:"confidence,omitempty"`
	TimeoutMs   int         `yaml:"timeout_ms,omitempty"`
	RetryCount  int         `yaml:"retry_count,omitempty"`
}

const (
	DefaultConfidenceThreshold = 0.7
	DefaultTimeoutMs           = 10000
	DefaultRetryCount          = 2
)
