package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind — причина постановки задачи.
//
// Исполнитель выбирает шаг по состоянию развёртывания, а не по виду задачи;
// вид нужен для метрик и логов.
type TaskKind string

const (
	TaskKindProvision TaskKind = "provision"
	TaskKindDelete    TaskKind = "delete"
	TaskKindUpdate    TaskKind = "update"
	TaskKindRecover   TaskKind = "recover"
)

// Task — элемент долговременной очереди задач.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	DeploymentID uuid.UUID  `json:"deployment_id"`
	Kind         TaskKind   `json:"kind"`
	Status       TaskStatus `json:"status"`

	// Attempt — сколько раз задачу забирали из очереди.
	Attempt int `json:"attempt"`

	// NotBefore — раньше этого момента задача не выдаётся.
	NotBefore time.Time `json:"not_before"`

	// LockedBy и LockedUntil — кто держит задачу и до какого момента.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask создаёт задачу, готовую к выполнению сразу.
func NewTask(deploymentID uuid.UUID, kind TaskKind) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		Kind:         kind,
		Status:       TaskStatusQueued,
		NotBefore:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsEligible — можно ли выдать задачу в момент now.
// Захваченная задача снова доступна после истечения LockedUntil.
func (t *Task) IsEligible(now time.Time) bool {
	switch t.Status {
	case TaskStatusQueued:
		return !t.NotBefore.After(now)
	case TaskStatusRunning:
		return t.LockedUntil != nil && t.LockedUntil.Before(now)
	default:
		return false
	}
}
