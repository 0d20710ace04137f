package submission

import (
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/chain"
)

// Phase is the lifecycle position of a key.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePending:
		return "PENDING"
	case PhaseSucceeded:
		return "SUCCEEDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether p is Succeeded or Failed.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// State is a snapshot of one key. TxHandle is set only when Succeeded and
// Reason only when Failed.
type State struct {
	Phase        Phase          `json:"phase"`
	SubmissionID string         `json:"submission_id,omitempty"`
	TxHandle     chain.TxHandle `json:"tx_handle,omitempty"`
	Reason       error          `json:"-"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ReasonText is the human-readable failure reason, empty unless Failed.
func (s State) ReasonText() string {
	if s.Reason == nil {
		return ""
	}
	return s.Reason.Error()
}

// Transition is one state change of a key.
type Transition struct {
	Key   Key   `json:"key"`
	From  Phase `json:"from"`
	State State `json:"state"`
}
