package openstack

import (
	"context"
	"strings"
	"time"

	"github.com/shaiso/Dozilab/internal/domain"
)

// StackSpec — описание стека для создания или обновления.
type StackSpec struct {
	// ProjectID — проект OpenStack, в котором живёт стек.
	ProjectID string

	// Name — детерминированное имя стека.
	Name string

	// Template — содержимое HOT-шаблона.
	Template []byte

	Parameters map[string]string

	// Timeout — таймаут операции на стороне Heat (округляется до минут).
	Timeout time.Duration
}

// StackRef — адрес существующего стека.
type StackRef struct {
	ProjectID string
	Name      string
	ID        string
}

// StackState — нормализованное состояние стека.
type StackState string

const (
	// StackPending — операция ещё идёт.
	StackPending StackState = "PENDING"

	// StackReady — последняя операция завершилась успешно.
	StackReady StackState = "READY"

	// StackError — последняя операция завершилась ошибкой.
	StackError StackState = "ERROR"

	// StackGone — стека нет.
	StackGone StackState = "GONE"
)

// StackStatus — результат опроса стека.
type StackStatus struct {
	State StackState

	// Action — последняя операция Heat: CREATE, UPDATE, DELETE, ROLLBACK.
	Action string

	// Reason — причина статуса от Heat. Наружу не выдаётся.
	Reason string

	Outputs map[string]any
}

// Stack — стек в представлении Backend.
type Stack struct {
	ID           string
	Name         string
	Status       string
	StatusReason string
	Outputs      map[string]any
}

// Backend — транспорт к OpenStack.
//
// Ошибки возвращаются как есть: HTTP-ошибки в виде
// gophercloud.ErrUnexpectedResponseCode.
type Backend interface {
	CreateStack(ctx context.Context, spec StackSpec) (string, error)
	FindStack(ctx context.Context, projectID, name string) (*Stack, error)
	GetStack(ctx context.Context, ref StackRef) (*Stack, error)
	UpdateStack(ctx context.Context, ref StackRef, spec StackSpec) error
	DeleteStack(ctx context.Context, ref StackRef) error
	Limits(ctx context.Context, projectID string) (*domain.ProjectUsage, error)
}

// parseStatus переводит статус Heat (ACTION_STATUS) в StackStatus.
func parseStatus(status string) (string, StackState) {
	action, result, ok := strings.Cut(status, "_")
	if !ok {
		return status, StackPending
	}

	switch result {
	case "IN_PROGRESS":
		return action, StackPending
	case "FAILED":
		return action, StackError
	case "COMPLETE":
		switch action {
		case "DELETE":
			return action, StackGone
		case "ROLLBACK":
			// Откат после неудачного создания или обновления.
			return action, StackError
		default:
			return action, StackReady
		}
	default:
		return action, StackPending
	}
}
