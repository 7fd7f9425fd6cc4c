package selectorconfig

// contextDefaults is the parsed form of a `_context.yaml` file: the
// overlay a scope contributes to descriptors beneath it (spec §3
// "Context Defaults").
type contextDefaults struct {
	PageType     string              `yaml:"page_type,omitempty"`
	WaitStrategy string              `yaml:"wait_strategy,omitempty"`
	TimeoutMs    int                 `yaml:"timeout_ms,omitempty"`
	RetryCount   *int                `yaml:"retry_count,omitempty"`
	Validation   *Validation         `yaml:"validation,omitempty"`
	Confidence   *Confidence         `yaml:"confidence,omitempty"`
	Templates    map[string]Strategy `yaml:"templates,omitempty"`
}

// mergeDefaults applies child on top of base, with child's explicit fields
// winning (nearest scope wins, spec §4.2 inheritance order).
func mergeDefaults(base, child contextDefaults) contextDefaults {
	out := base
	if child.PageType != "" {
		out.PageType = child.PageType
	}
	if child.WaitStrategy != "" {
		out.WaitStrategy = child.WaitStrategy
	}
	if child.TimeoutMs != 0 {
		out.TimeoutMs = child.TimeoutMs
	}
	if child.RetryCount != nil {
		out.RetryCount = child.RetryCount
	}
	if child.Validation != nil {
		out.Validation = child.Validation
	}
	if child.Confidence != nil {
		out.Confidence = child.Confidence
	}
	if len(child.Templates) > 0 {
		merged := make(map[string]Strategy, len(out.Templates)+len(child.Templates))
		for k, v := range out.Templates {
			merged[k] = v
		}
		for k, v := range child.Templates {
			merged[k] = v
		}
		out.Templates = merged
	}
	return out
}
