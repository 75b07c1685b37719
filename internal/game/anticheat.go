package game

import (
	"math"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/network"
)

// ValidationResult represents the result of anti-cheat validation
type ValidationResult int

const (
	ValidationValid ValidationResult = iota
	// ValidationClamped means the move was accepted with a reduced dt.
	ValidationClamped
	// ValidationStale means the move replays an older client clock.
	ValidationStale
	// ValidationRejected means the move cannot be applied at all.
	ValidationRejected
)

func (v ValidationResult) String() string {
	switch v {
	case ValidationValid:
		return "valid"
	case ValidationClamped:
		return "clamped"
	case ValidationStale:
		return "stale"
	case ValidationRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// AntiCheat handles anti-cheat validation
type AntiCheat struct {
	maxDelta  float64
	tolerance float64
}

// NewAntiCheat creates a new anti-cheat validator
func NewAntiCheat() *AntiCheat {
	return &AntiCheat{
		maxDelta:  config.MaxMoveDelta,
		tolerance: config.ClockTolerance,
	}
}

// ValidateMove checks a client move request against the actor's current
// authoritative state. The request's dt may be rewritten in place; the
// caller applies the move unless the result is Stale or Rejected.
func (ac *AntiCheat) ValidateMove(a *Actor, ev *network.ActorMove) ValidationResult {
	req := ev.Actor
	if !req.Heading.IsZero() && !req.Heading.IsDirection() {
		a.Violations++
		return ValidationRejected
	}
	if math.IsNaN(ev.Dt) || math.IsInf(ev.Dt, 0) || math.IsNaN(req.LastClock) {
		a.Violations++
		return ValidationRejected
	}

	cur := a.State
	if req.LastClock < cur.LastClock {
		return ValidationStale
	}

	limit := ac.maxDelta
	if cur.LastClock > 0 {
		limit = math.Min(limit, req.LastClock-cur.LastClock+ac.tolerance)
	}

	switch {
	case ev.Dt < 0:
		ev.Dt = 0
	case ev.Dt > limit:
		ev.Dt = math.Max(limit, 0)
	default:
		return ValidationValid
	}
	a.Violations++
	return ValidationClamped
}

// Exceeded reports whether the actor has piled up enough violations to be
// disconnected.
func (ac *AntiCheat) Exceeded(a *Actor) bool {
	return a.Violations > config.MaxViolations
}
