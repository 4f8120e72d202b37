package domain

import (
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Target — куда разворачивать: в проект курса или в личный проект владельца.
type Target struct {
	// CourseID — курс; nil означает личный проект запрашивающего.
	CourseID *uuid.UUID `json:"course_id,omitempty"`
}

// LastError — последняя ошибка развёртывания в виде, пригодном для показа пользователю.
type LastError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Deployment — отслеживаемый экземпляр версии шаблона.
//
// Запись меняется только через statestore: каждый переход увеличивает Revision,
// а запись с устаревшей ревизией отклоняется.
type Deployment struct {
	// ID — уникальный идентификатор развёртывания.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// TemplateID и VersionID — закреплённая версия шаблона.
	TemplateID uuid.UUID `json:"template_id"`
	VersionID  uuid.UUID `json:"version_id"`

	// OwnerID и TenantID — кто запросил развёртывание.
	OwnerID  uuid.UUID `json:"owner_id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// CourseID — курс; nil для личного проекта.
	CourseID *uuid.UUID `json:"course_id,omitempty"`

	// ProjectID — проект OpenStack, в котором живёт стек.
	ProjectID string `json:"project_id"`

	// State и Revision — текущее состояние и счётчик ревизий.
	State    DeploymentState `json:"state"`
	Revision int64           `json:"revision"`

	// CancelRequested — запрошено удаление; проверяется исполнителем между вызовами OpenStack.
	CancelRequested bool `json:"cancel_requested"`

	// StackName — детерминированное имя стека (dz-<id>), StackID — идентификатор в Heat.
	StackName string `json:"stack_name"`
	StackID   string `json:"stack_id,omitempty"`

	// PendingVersionID — версия, до которой запрошено обновление.
	PendingVersionID *uuid.UUID `json:"pending_version_id,omitempty"`

	// UpdateIssued и DeleteIssued — запрос в Heat уже отправлен на текущем шаге.
	UpdateIssued bool `json:"update_issued,omitempty"`
	DeleteIssued bool `json:"delete_issued,omitempty"`

	// Attempts — неудачные попытки в текущем состоянии, сбрасываются при переходе.
	Attempts int `json:"attempts"`

	// TotalRetries — все повторы за время жизни развёртывания.
	TotalRetries int `json:"total_retries"`

	LastError *LastError `json:"last_error,omitempty"`

	// IdempotencyKey — ключ идемпотентности запроса (уникален в рамках владельца).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Parameters — параметры стека Heat.
	Parameters map[string]string `json:"parameters,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает глубокую копию.
func (d *Deployment) Clone() *Deployment {
	c := *d
	if d.CourseID != nil {
		id := *d.CourseID
		c.CourseID = &id
	}
	if d.PendingVersionID != nil {
		id := *d.PendingVersionID
		c.PendingVersionID = &id
	}
	if d.LastError != nil {
		le := *d.LastError
		c.LastError = &le
	}
	if d.Parameters != nil {
		c.Parameters = maps.Clone(d.Parameters)
	}
	return &c
}

// NeedsWork возвращает true, если у исполнителя есть работа по развёртыванию.
func (d *Deployment) NeedsWork() bool {
	switch d.State {
	case StateActive:
		return d.CancelRequested || d.PendingVersionID != nil
	case StateFailed:
		return d.CancelRequested
	case StateDeleted:
		return false
	default:
		return true
	}
}

// Target возвращает цель развёртывания.
func (d *Deployment) Target() Target {
	return Target{CourseID: d.CourseID}
}

// Scope возвращает область видимости владельца.
func (d *Deployment) Scope() RequesterScope {
	return RequesterScope{UserID: d.OwnerID, TenantID: d.TenantID}
}

// StackNameFor возвращает имя стека для развёртывания.
// По этому имени стек находится, даже если его ID не успели сохранить.
func StackNameFor(id uuid.UUID) string {
	return "dz-" + id.String()
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// DefaultDeploymentName строит имя из имени шаблона и короткого суффикса ID.
func DefaultDeploymentName(templateName string, id uuid.UUID) string {
	base := nameSanitizer.ReplaceAllString(strings.ToLower(templateName), "-")
	base = strings.Trim(base, "-")
	if len(base) > 40 {
		base = strings.TrimRight(base[:40], "-")
	}
	if base == "" {
		base = "deployment"
	}
	return base + "-" + id.String()[:8]
}
