package domain

import "time"

// TriggerStatus tracks whether a scheduled trigger has fired.
type TriggerStatus string

const (
	TriggerStatusPending TriggerStatus = "pending"
	TriggerStatusFired   TriggerStatus = "fired"
)

// CallbackSpec is the embedded invocation a trigger carries: which entry
// point to call and for which position. It is the only thing the dispatcher
// knows about the work it kicks off.
type CallbackSpec struct {
	Entrypoint string `json:"entrypoint"`
	PositionID string `json:"position_id"`
	PoolID     string `json:"pool_id"`
	Owner      string `json:"owner"`
}

// ScheduledTrigger is a one-shot future invocation registered with the
// settlement scheduler. It fires at-or-after TriggerAt, best effort; exact
// timing and delivery depend on the automation dispatcher staying funded and
// available. The registration is keyed by (ThreadID, Authority).
type ScheduledTrigger struct {
	ThreadID  string
	Authority string // derived signing authority that owns the registration
	Callback  CallbackSpec
	TriggerAt time.Time
	FeeAmount uint64
	FeePayer  string // vault account address the automation fee was taken from
	Status    TriggerStatus
	CreatedAt time.Time
	FiredAt   *time.Time
}
