// Package state implements the exchange lifecycle state machine. Every
// component consults the guard table here before mutating anything; no
// operation bypasses it.
package state

import "errors"

// ErrNotAvailable is returned for any operation invoked outside its
// allowed lifecycle phases.
var ErrNotAvailable = errors.New("state: not available in current state")

// Phase is the lifecycle phase of one exchange instance.
type Phase int

const (
	// Created is the initial phase: nothing issued, nothing tradable.
	Created Phase = iota
	// PresaleOpen is the capped subscription window.
	PresaleOpen
	// PresaleFinished means the presale target was reached and shares
	// were minted. Trading-class operations are allowed.
	PresaleFinished
	// PresaleFailed is entered when a presale is terminated before its
	// target. Subscribers withdraw their refunds individually.
	PresaleFailed
	// Trading is the open secondary-trading phase.
	Trading
	// Terminated is the terminal wound-down phase.
	Terminated
)

var phaseNames = map[Phase]string{
	Created:         "created",
	PresaleOpen:     "presale_open",
	PresaleFinished: "presale_finished",
	PresaleFailed:   "presale_failed",
	Trading:         "trading",
	Terminated:      "terminated",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

// ParsePhase is the inverse of Phase.String, used when loading snapshots.
func ParsePhase(s string) (Phase, bool) {
	for p, n := range phaseNames {
		if n == s {
			return p, true
		}
	}
	return 0, false
}

// Op enumerates the guarded public operations of an exchange.
type Op int

const (
	OpInitialize Op = iota
	OpInitializePresale
	OpPurchase
	OpBuy
	OpSell
	OpAccept
	OpCancel
	OpTransfer
	OpTerminate
	OpWithdraw
)

// guards is the single source of truth for which operations are legal in
// which phases. Cancel is absent: it is legal in every phase and gated
// only by the caller having an active order.
var guards = map[Op]map[Phase]bool{
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

// Allowed reports whether op is legal in phase p.
func Allowed(op Op, p Phase) bool {
	if op == OpCancel {
		return true
	}
	return guards[op][p]
}

// Check returns ErrNotAvailable when op is not legal in phase p.
func Check(op Op, p Phase) error {
	if !Allowed(op, p) {
		return ErrNotAvailable
	}
	return nil
}
