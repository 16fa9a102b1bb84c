package machine

import "time"

// Phase is the controller's coarse operating phase.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseFault    Phase = "fault"
)

type Command string

const (
	CommandStart Command = "start"
	CommandFill  Command = "fill"
	CommandStop  Command = "stop"
	CommandReset Command = "reset"
)

type RigStatus struct {
	Phase            Phase       `json:"phase"`
	State            string      `json:"state,omitempty"`
	RunID            string      `json:"run_id,omitempty"`
	Armed            bool        `json:"armed"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	Steps            int         `json:"steps"`
	Runs             int         `json:"runs"`
	LastTransition   *Transition `json:"last_transition,omitempty"`
	SelfTestFailures []string    `json:"self_test_failures,omitempty"`
	LastPhaseChange  time.Time   `json:"last_phase_change"`
}
