package selector

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"scrapcore/internal/selectorconfig"
)

// textSimilarity returns a Levenshtein-normalized similarity in [0,1]
// between the trimmed inner text of a candidate and the strategy's
// expected name/text, per spec §4.3 "text_match_bonus".
func textSimilarity(got, want string) float64 {
	got = strings.TrimSpace(got)
	want = strings.TrimSpace(want)
	if got == "" && want == "" {
		return 1.0
	}
	maxLen := len(got)
	if len(want) > maxLen {
		maxLen = len(want)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(got, want)
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}

// score computes the multiplicative confidence for one matched
// candidate (spec §4.3 "Scoring"). textMatchApplicable is false for
// strategy kinds that carry no name/text expectation, in which case the
// bonus is treated as 1.0 (not applicable, not a penalty).
type scoreInputs struct {
	weight               float64
	matchCount           int
	validationPassed     bool
	visible              bool
	textMatchApplicable  bool
	candidateText        string
	wantText             string
}

// disqualifyThreshold is the text-match similarity floor below which a
// candidate is rejected outright (spec §4.3).
const disqualifyThreshold = 0.5

// score returns the rounded confidence and whether the candidate is
// disqualified by a too-low text match.
func score(in scoreInputs) (confidence float64, disqualified bool) {
	specificity := 1.0
	if in.matchCount > 1 {
		specificity = 1.0 / float64(in.matchCount)
	}

	validationScore := 0.0
	if in.validationPassed {
		validationScore = 1.0
	}

	visibility := 0.7
	if in.visible {
		visibility = 1.0
	}

	textBonus := 1.0
	if in.textMatchApplicable {
		textBonus = textSimilarity(in.candidateText, in.wantText)
		if textBonus < disqualifyThreshold {
			return 0, true
		}
	}

	raw := in.weight * specificity * validationScore * visibility * textBonus
	return math.Round(raw*1000) / 1000, false
}

// textMatchApplicable reports whether strategy carries a name/text
// expectation the bonus can be scored against. A role strategy without a
// name param (an unnamed landmark/role match) and a text_anchor without
// text carry no expectation to compare against, so the bonus does not
// apply to them (spec §4.3: bonus scoped to role "with a name").
func textMatchApplicable(s selectorconfig.Strategy) bool {
	switch s.Kind {
	case selectorconfig.KindRole:
		return s.Params["name"] != ""
	case selectorconfig.KindTextAnchor:
		return s.Params["text"] != ""
	default:
		return false
	}
}

// wantText returns the name/text a strategy's candidate is compared
// against, keyed by the same param the strategy's query uses.
func wantText(s selectorconfig.Strategy) string {
	switch s.Kind {
	case selectorconfig.KindRole:
		return s.Params["name"]
	case selectorconfig.KindTextAnchor:
		return s.Params["text"]
	default:
		return ""
	}
}
