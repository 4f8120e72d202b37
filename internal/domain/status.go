package domain

// DeploymentState — состояние жизненного цикла развёртывания.
//
// Жизненный цикл:
//
//	REQUESTED → VALIDATING → PROVISIONING → ACTIVE ⇄ UPDATING
//	                       ↘ FAILED       ↘ DELETING → DELETED
//
// FAILED достижим из VALIDATING, PROVISIONING, UPDATING и DELETING.
type DeploymentState string

const (
	// StateRequested — развёртывание создано, задача в очереди.
	StateRequested DeploymentState = "REQUESTED"

	// StateValidating — повторная проверка шаблона, проекта и квоты.
	StateValidating DeploymentState = "VALIDATING"

	// StateProvisioning — стек создаётся в OpenStack.
	StateProvisioning DeploymentState = "PROVISIONING"

	// StateActive — стек готов, инстансы доступны.
	StateActive DeploymentState = "ACTIVE"

	// StateUpdating — стек обновляется до новой версии шаблона.
	StateUpdating DeploymentState = "UPDATING"

	// StateDeleting — стек удаляется.
	StateDeleting DeploymentState = "DELETING"

	// StateDeleted — стек удалён, финальное состояние.
	StateDeleted DeploymentState = "DELETED"

	// StateFailed — операция завершилась ошибкой.
	StateFailed DeploymentState = "FAILED"
)

// transitions — допустимые рёбра автомата.
// Пустое состояние — источник для создания записи.
var transitions = map[DeploymentState][]DeploymentState{
	"":                {StateRequested},
	StateRequested:    {StateValidating},
	StateValidating:   {StateProvisioning, StateFailed},
	StateProvisioning: {StateActive, StateFailed, StateDeleting},
	StateActive:       {StateDeleting, StateUpdating},
	StateUpdating:     {StateActive, StateFailed},
	StateDeleting:     {StateDeleted, StateFailed},
	StateFailed:       {StateDeleting},
}

// CanTransition проверяет, есть ли ребро from → to.
func CanTransition(from, to DeploymentState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для DELETED.
func (s DeploymentState) IsTerminal() bool {
	return s == StateDeleted
}

// IsResting возвращает true, если без внешнего запроса работы в этом состоянии нет.
func (s DeploymentState) IsResting() bool {
	switch s {
	case StateActive, StateFailed, StateDeleted:
		return true
	default:
		return false
	}
}

// IsDeletable — можно ли запросить удаление из этого состояния.
func (s DeploymentState) IsDeletable() bool {
	switch s {
	case StateActive, StateFailed, StateProvisioning:
		return true
	default:
		return false
	}
}

// IsValid возвращает true для известных состояний.
func (s DeploymentState) IsValid() bool {
	_, ok := transitions[s]
	return ok || s == StateDeleted
}

// InFlightStates — состояния, в которых исполнитель ещё должен что-то сделать.
func InFlightStates() []DeploymentState {
	return []DeploymentState{
		StateRequested,
		StateValidating,
		StateProvisioning,
		StateUpdating,
		StateDeleting,
	}
}

// TaskStatus — статус задачи в очереди.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → DONE
//	       ↖ (requeue)
type TaskStatus string

const (
	// TaskStatusQueued — задача ждёт воркера (с учётом NotBefore).
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — задача захвачена воркером до LockedUntil.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusDone — задача завершена.
	TaskStatusDone TaskStatus = "DONE"
)
