package domain

import (
	"time"

	"github.com/google/uuid"
)

// Причины переходов, записываемые в историю.
const (
	CauseRequested         = "requested"
	CauseTaskPickedUp      = "task_picked_up"
	CauseChecksPassed      = "checks_passed"
	CauseCheckFailed       = "check_failed"
	CauseResourceReady     = "resource_ready"
	CauseResourceError     = "resource_error"
	CauseCancelObserved    = "cancellation_observed"
	CauseDeletionRequested = "deletion_requested"
	CauseResourceGone      = "resource_gone"
	CauseUpdateRequested   = "update_requested"
	CauseUpdateComplete    = "update_complete"
	CauseFatalError        = "fatal_error"
	CauseRetriesExhausted  = "retries_exhausted"
)

// DeploymentEvent — неизменяемая запись о переходе состояния.
type DeploymentEvent struct {
	ID           uuid.UUID       `json:"id"`
	DeploymentID uuid.UUID       `json:"deployment_id"`
	Revision     int64           `json:"revision"`
	From         DeploymentState `json:"from,omitempty"`
	To           DeploymentState `json:"to"`
	Cause        string          `json:"cause"`

	// Retries — сколько неудачных попыток было в исходном состоянии.
	Retries int `json:"retries"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsValidHistory проверяет, что события образуют путь по автомату без пропусков.
func IsValidHistory(events []DeploymentEvent) bool {
	var prev DeploymentState
	var rev int64
	for i, ev := range events {
		if ev.From != prev || !CanTransition(ev.From, ev.To) {
			return false
		}
		if i > 0 && ev.Revision <= rev {
			return false
		}
		prev, rev = ev.To, ev.Revision
	}
	return true
}
