package statestore

import "errors"

var (
	// ErrInvalidTransition — ребра from → to нет в автомате.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound — развёртывание не найдено.
	ErrNotFound = errors.New("deployment not found")
)
