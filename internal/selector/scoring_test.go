package selector

import "testing"

func TestScoreMultipliesFactors(t *testing.T) {
	conf, disqualified := score(scoreInputs{
		weight:           0.8,
		matchCount:       2,
		validationPassed: true,
		visible:          true,
	})
	if disqualified {
		t.Fatal("should not disqualify without a text-match requirement")
	}
	want := 0.8 * 0.5 * 1.0 * 1.0 * 1.0
	if conf != round3(want) {
		t.Fatalf("confidence = %v, want %v", conf, round3(want))
	}
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

func TestScoreZeroOnFailedValidation(t *testing.T) {
	conf, _ := score(scoreInputs{weight: 1.0, matchCount: 1, validationPassed: false, visible: true})
	if conf != 0 {
		t.Fatalf("confidence = %v, want 0", conf)
	}
}

func TestScoreDisqualifiesLowTextSimilarity(t *testing.T) {
	_, disqualified := score(scoreInputs{
		weight: 1.0, matchCount: 1, validationPassed: true, visible: true,
		textMatchApplicable: true, candidateText: "completely different", wantText: "Alpha",
	})
	if !disqualified {
		t.Fatal("expected disqualification below the 0.5 text-similarity floor")
	}
}

func TestScoreNotVisiblePenalty(t *testing.T) {
	conf, _ := score(scoreInputs{weight: 1.0, matchCount: 1, validationPassed: true, visible: false})
	if conf != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", conf)
	}
}
