package browsersession

import "testing"

func TestNewElementRegistry(t *testing.T) {
	reg := NewElementRegistry()
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d elements", reg.Count())
	}
	if reg.GenerationID() != 0 {
		t.Errorf("expected initial generation 0, got %d", reg.GenerationID())
	}
}

func TestElementRegistryRegisterBatchIncrementsGeneration(t *testing.T) {
	reg := NewElementRegistry()
	initialGen := reg.GenerationID()

	reg.RegisterBatch([]*ElementFingerprint{
		{Ref: "ref1", TagName: "button"},
		{Ref: "ref2", TagName: "input"},
	})

	if reg.Count() != 2 {
		t.Errorf("expected 2 elements, got %d", reg.Count())
	}
	if reg.GenerationID() != initialGen+1 {
		t.Error("expected generation to increment on batch register")
	}
	if got := reg.Get("ref1"); got == nil || got.TagName != "button" {
		t.Errorf("expected ref1 to resolve to button fingerprint, got %+v", got)
	}
}

func TestElementRegistryClearBumpsGenerationAndEmpties(t *testing.T) {
	reg := NewElementRegistry()
	reg.Register(&ElementFingerprint{Ref: "a"})
	gen := reg.GenerationID()

	reg.Clear()

	if reg.Count() != 0 {
		t.Errorf("expected registry empty after clear, got %d", reg.Count())
	}
	if reg.GenerationID() != gen+1 {
		t.Error("expected generation to increment on clear")
	}
}

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitializing, StatusActive, true},
		{StatusInitializing, StatusClosing, false},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusClosing, true},
		{StatusClosing, StatusTerminated, true},
		{StatusClosing, StatusActive, false},
		{StatusTerminated, StatusActive, false},
		{StatusActive, StatusFailed, true},
		{StatusTerminated, StatusFailed, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
