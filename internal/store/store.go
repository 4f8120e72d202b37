package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
)

// Change — то, что пишется вместе с обновлением развёртывания в одной транзакции.
type Change struct {
	// Event — запись истории; nil для обновлений без перехода.
	Event *domain.DeploymentEvent

	// ReplaceInstances — заменить инстансы на Instances (пустой список удаляет все).
	ReplaceInstances bool
	Instances        []domain.DeploymentInstance
}

// Deployments — хранилище развёртываний, их истории и инстансов.
type Deployments interface {
	// Create сохраняет новое развёртывание вместе с первым событием.
	// Повтор ключа идемпотентности для того же владельца — ErrAlreadyExists.
	Create(ctx context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) error

	Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error)
	GetByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*domain.Deployment, error)

	// CompareAndSwap записывает d, если текущая ревизия равна expected.
	// Иначе — ErrRevisionMismatch без изменений.
	CompareAndSwap(ctx context.Context, d *domain.Deployment, expected int64, change Change) error

	ListEvents(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentEvent, error)
	ListInstances(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentInstance, error)

	// ListStale возвращает развёртывания, которым нужна работа исполнителя
	// и которые не менялись с момента before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Deployment, error)

	// ListByProject возвращает не удалённые развёртывания проекта.
	ListByProject(ctx context.Context, projectID string) ([]domain.Deployment, error)
}

// Templates — хранилище шаблонов и их версий.
type Templates interface {
	CreateTemplate(ctx context.Context, t *domain.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetTemplateByName(ctx context.Context, name string) (*domain.Template, error)

	// UpdateTemplate меняет согласование, видимость и описание.
	UpdateTemplate(ctx context.Context, t *domain.Template) error

	// CreateVersion добавляет версию. Повтор номера или хеша — ErrAlreadyExists.
	CreateVersion(ctx context.Context, v *domain.TemplateVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*domain.TemplateVersion, error)
	GetVersionByNumber(ctx context.Context, templateID uuid.UUID, version int) (*domain.TemplateVersion, error)
	GetVersionByHash(ctx context.Context, templateID uuid.UUID, hash string) (*domain.TemplateVersion, error)

	// ListVersions возвращает версии по возрастанию номера.
	ListVersions(ctx context.Context, templateID uuid.UUID) ([]domain.TemplateVersion, error)
}

// Tasks — долговременная очередь задач.
type Tasks interface {
	Enqueue(ctx context.Context, t *domain.Task) error

	// Dequeue захватывает самую раннюю доступную задачу на время visibility.
	// Пустая очередь — ErrNoTask.
	Dequeue(ctx context.Context, owner string, visibility time.Duration) (*domain.Task, error)

	// Complete и Requeue принимают задачу в том виде, в каком её вернул
	// Dequeue, и действуют, только пока этот захват (LockedBy и Attempt)
	// актуален. Если захват истёк и задачу забрали снова, возвращается
	// ErrClaimLost, задача не меняется.
	Complete(ctx context.Context, claim *domain.Task) error

	// Requeue возвращает задачу в очередь, не раньше notBefore.
	Requeue(ctx context.Context, claim *domain.Task, notBefore time.Time) error

	// HasOpenTask — есть ли у развёртывания незавершённая задача.
	HasOpenTask(ctx context.Context, deploymentID uuid.UUID) (bool, error)
}

// Projects — маппинг курсов и владельцев на проекты OpenStack.
type Projects interface {
	CourseProject(ctx context.Context, courseID uuid.UUID) (*domain.ProjectMapping, error)
	PersonalProject(ctx context.Context, ownerID uuid.UUID) (*domain.ProjectMapping, error)
	PutMapping(ctx context.Context, m *domain.ProjectMapping) error
}

// Artifacts — хранилище содержимого шаблонов, адресуемого по sha256.
type Artifacts interface {
	// Put сохраняет содержимое под хешем и возвращает ссылку на артефакт.
	// Повторная запись того же хеша не меняет объект.
	Put(ctx context.Context, hash string, content []byte) (string, error)

	// Get возвращает содержимое и проверяет его хеш.
	Get(ctx context.Context, ref string) ([]byte, error)
}
