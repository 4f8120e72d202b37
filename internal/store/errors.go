package store

import "errors"

// Общие ошибки хранилищ.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — нарушение уникальности (ID, ключ идемпотентности, номер версии).
	ErrAlreadyExists = errors.New("already exists")

	// ErrRevisionMismatch — ревизия в хранилище не совпала с ожидаемой.
	ErrRevisionMismatch = errors.New("revision mismatch")

	// ErrNoTask — в очереди нет доступных задач.
	ErrNoTask = errors.New("no task available")

	// ErrClaimLost — задача не захвачена этим воркером (захват истёк или задачи нет).
	ErrClaimLost = errors.New("task claim lost")
)
