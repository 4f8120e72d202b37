package registry

import "errors"

var (
	// ErrNotFound — шаблон или версия не найдены.
	ErrNotFound = errors.New("template not found")

	// ErrNotApproved — шаблон существует, но недоступен запрашивающему.
	ErrNotApproved = errors.New("template is not deployable")

	// ErrInvalidApprovalState — переход согласования недопустим.
	ErrInvalidApprovalState = errors.New("invalid approval transition")

	// ErrInvalidTemplate — некорректные атрибуты шаблона.
	ErrInvalidTemplate = errors.New("invalid template")
)
