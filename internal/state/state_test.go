package state

import "testing"

var allPhases = []Phase{Created, PresaleOpen, PresaleFinished, PresaleFailed, Trading, Terminated}

// TestGuardTable sweeps every operation against every phase and checks
// the allowed set exactly.
func TestGuardTable(t *testing.T) {
	allowed := map[Op]map[Phase]bool{
		OpInitialize:        {Created: true},
		OpInitializePresale: {Created: true},
		OpPurchase:          {PresaleOpen: true},
		OpBuy:               {Trading: true, PresaleFinished: true},
		OpSell:              {Trading: true, PresaleFinished: true},
		OpAccept:            {Trading: true, PresaleFinished: true},
		OpTransfer:          {PresaleFinished: true, PresaleFailed: true, Trading: true, Terminated: true},
		OpTerminate:         {Created: true, Trading: true, PresaleOpen: true},
		OpWithdraw:          {PresaleFailed: true},
	}

	for op, phases := range allowed {
		for _, p := range allPhases {
			got := Allowed(op, p)
			if got != phases[p] {
				t.Errorf("Allowed(op=%d, phase=%s) = %v, want %v", op, p, got, phases[p])
			}
		}
	}
}

func TestCancelAllowedEverywhere(t *testing.T) {
	for _, p := range allPhases {
		if !Allowed(OpCancel, p) {
			t.Errorf("cancel should be allowed in phase %s", p)
		}
	}
}

func TestCheckReturnsErrNotAvailable(t *testing.T) {
	if err := Check(OpBuy, Created); err != ErrNotAvailable {
		t.Errorf("expected ErrNotAvailable, got %v", err)
	}
	if err := Check(OpBuy, Trading); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPhaseStringRoundTrip(t *testing.T) {
	for _, p := range allPhases {
		got, ok := ParsePhase(p.String())
		if !ok || got != p {
			t.Errorf("ParsePhase(%q) = %v, %v; want %v", p.String(), got, ok, p)
		}
	}
	if _, ok := ParsePhase("bogus"); ok {
		t.Error("ParsePhase should reject unknown names")
	}
}
