package orchestrator

import (
	"errors"

	"github.com/shaiso/Dozilab/internal/domain"
)

// Ошибки оркестратора. Наружу они уходят внутри domain.Error вида validation,
// так что errors.Is работает и с ними, и с domain.ErrValidation.
var (
	// ErrDeploymentNotFound — развёртывание не найдено.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrInvalidState — операция недопустима в текущем состоянии.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNotOwner — запрашивающий не владеет развёртыванием.
	ErrNotOwner = errors.New("requester does not own the deployment")

	// ErrTemplateMismatch — версия относится к другому шаблону.
	ErrTemplateMismatch = errors.New("version belongs to another template")

	// ErrUpdatePending — обновление уже запрошено.
	ErrUpdatePending = errors.New("update already pending")
)

func rejected(msg string, err error) error {
	return &domain.Error{Kind: domain.KindValidation, Message: msg, Err: err}
}
