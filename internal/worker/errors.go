package worker

import "errors"

// Ошибки исполнителя.
var (
	// ErrStepTimeout — шаг не уложился в StepTimeout.
	ErrStepTimeout = errors.New("step timeout")

	// ErrLeaseLost — аренда развёртывания потеряна посреди шага.
	ErrLeaseLost = errors.New("lease lost")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// errStackFailed — Heat перевёл стек в *_FAILED.
	errStackFailed = errors.New("stack operation failed")
)
