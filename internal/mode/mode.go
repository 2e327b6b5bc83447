// Package mode implements the dialogue mode state machine governing a
// tutoring session. A session always starts in CHECK_IN; WRAP_UP is not
// terminal and loops back to CHECK_IN when a new session begins.
//
// Transitions are driven by signals, either reported by the model in its
// structured output or derived by the state-change detector. Signals not in
// the transition table are ignored rather than rejected: a model may emit an
// invalid signal and that must never break the session.
package mode

import "sort"

// Mode is a dialogue mode.
type Mode string

const (
	CheckIn  Mode = "CHECK_IN"
	Explore  Mode = "EXPLORE"
	Verify   Mode = "VERIFY"
	Practice Mode = "PRACTICE"
	WrapUp   Mode = "WRAP_UP"
)

// Initial is the mode every new session starts in.
const Initial = CheckIn

// IsValid reports whether m is a recognised dialogue mode.
func (m Mode) IsValid() bool {
	switch m {
	case CheckIn, Explore, Verify, Practice, WrapUp:
		return true
	}
	return false
}

// Signal is a transition trigger.
type Signal string

const (
	SignalCheckinComplete   Signal = "checkin_complete"
	SignalNeedsVerification Signal = "needs_verification"
	SignalReadyToPractice   Signal = "ready_to_practice"
	SignalVerified          Signal = "verified"
	SignalGapFound          Signal = "gap_found"
	SignalGoalAchieved      Signal = "goal_achieved"
	SignalLowEnergy         Signal = "low_energy"
	SignalSessionRestarted  Signal = "session_restarted"
)

type transition struct {
	from   Mode
	signal Signal
}

// table holds all legal transitions. low_energy is legal from every mode
// and leads to WRAP_UP.
var table = map[transition]Mode{
	{CheckIn, SignalCheckinComplete}:   Explore,
	{Explore, SignalNeedsVerification}: Verify,
	{Explore, SignalReadyToPractice}:   Practice,
	{Verify, SignalVerified}:           Practice,
	{Verify, SignalGapFound}:           Explore,
	{Practice, SignalGoalAchieved}:     WrapUp,
	{CheckIn, SignalLowEnergy}:         WrapUp,
	{Explore, SignalLowEnergy}:         WrapUp,
	{Verify, SignalLowEnergy}:          WrapUp,
	{Practice, SignalLowEnergy}:        WrapUp,
	{WrapUp, SignalSessionRestarted}:   CheckIn,
}

// Apply returns the mode reached by firing signal from current. Unknown or
// illegal signals leave the mode unchanged; the second return value reports
// whether a transition actually happened.
func Apply(current Mode, signal Signal) (Mode, bool) {
	next, ok := table[transition{current, signal}]
	if !ok {
		return current, false
	}
	return next, true
}

// TransitionSignals returns the signals that are legal from m, sorted.
func TransitionSignals(m Mode) []Signal {
	var signals []Signal
	for tr := range table {
		if tr.from == m {
			signals = append(signals, tr.signal)
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i] < signals[j] })
	return signals
}

// ShouldVerifyBeforePractice reports whether entering PRACTICE from m
// requires a verification pass first. True for CHECK_IN and EXPLORE: a
// learner may not jump straight to practice without their understanding
// being checked, unless the engine's policy finds an existing proof.
func ShouldVerifyBeforePractice(m Mode) bool {
	return m == CheckIn || m == Explore
}
