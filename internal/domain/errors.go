package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — стабильный вид ошибки, на котором строится политика повторов.
type ErrorKind string

const (
	// KindValidation — некорректный запрос, неутверждённый шаблон или отказ по квоте.
	KindValidation ErrorKind = "validation"

	// KindTransientInfra — сетевой сбой, rate limit, 5xx. Повторяется с backoff.
	KindTransientInfra ErrorKind = "transient_infra"

	// KindFatalInfra — OpenStack отверг запрос как некорректный. Без повторов.
	KindFatalInfra ErrorKind = "fatal_infra"

	// KindConcurrencyConflict — устаревшая ревизия при записи.
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"

	// KindLeaseContention — lease развёртывания держит другая задача.
	KindLeaseContention ErrorKind = "lease_contention"
)

// Error — ошибка доменной таксономии.
//
// Message безопасно показывать пользователю. Err может содержать детали
// инфраструктуры и наружу не выдаётся.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает по виду: errors.Is(err, ErrTransientInfra) верно для любой транзиентной ошибки.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Сентинелы для errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrTransientInfra      = &Error{Kind: KindTransientInfra}
	ErrFatalInfra          = &Error{Kind: KindFatalInfra}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrLeaseContention     = &Error{Kind: KindLeaseContention}
)

// NewValidationError создаёт ошибку валидации.
func NewValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError оборачивает err в транзиентную ошибку.
func NewTransientError(msg string, err error) error {
	return &Error{Kind: KindTransientInfra, Message: msg, Err: err}
}

// NewFatalError оборачивает err в фатальную ошибку.
func NewFatalError(msg string, err error) error {
	return &Error{Kind: KindFatalInfra, Message: msg, Err: err}
}

// NewConflictError — ревизия записи устарела.
func NewConflictError(msg string, err error) error {
	return &Error{Kind: KindConcurrencyConflict, Message: msg, Err: err}
}

// NewLeaseContentionError — lease занят.
func NewLeaseContentionError(err error) error {
	return &Error{Kind: KindLeaseContention, Message: "lease held by another task", Err: err}
}

// KindOf возвращает вид ошибки или пустую строку для ошибок вне таксономии.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Redact превращает ошибку в LastError без деталей инфраструктуры.
func Redact(err error) *LastError {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" {
			msg = string(e.Kind)
		}
		return &LastError{Kind: e.Kind, Message: msg}
	}
	return &LastError{Kind: KindTransientInfra, Message: "internal error"}
}
