package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalState — состояние шаблона в процессе согласования.
//
// Жизненный цикл:
//
//	DRAFT → PENDING_APPROVAL → APPROVED → DEPRECATED
//	                         ↘ REJECTED → PENDING_APPROVAL
type ApprovalState string

const (
	// ApprovalDraft — шаблон создан, на согласование не отправлялся.
	ApprovalDraft ApprovalState = "DRAFT"

	// ApprovalPending — ожидает решения администратора.
	ApprovalPending ApprovalState = "PENDING_APPROVAL"

	// ApprovalApproved — шаблон можно разворачивать.
	ApprovalApproved ApprovalState = "APPROVED"

	// ApprovalRejected — шаблон отклонён.
	ApprovalRejected ApprovalState = "REJECTED"

	// ApprovalDeprecated — шаблон снят с использования, новые развёртывания запрещены.
	ApprovalDeprecated ApprovalState = "DEPRECATED"
)

var approvalTransitions = map[ApprovalState][]ApprovalState{
	ApprovalDraft:    {ApprovalPending},
	ApprovalRejected: {ApprovalPending},
	ApprovalPending:  {ApprovalApproved, ApprovalRejected},
	ApprovalApproved: {ApprovalDeprecated},
}

// CanTransitionTo проверяет допустимость перехода согласования.
func (s ApprovalState) CanTransitionTo(next ApprovalState) bool {
	for _, allowed := range approvalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Visibility — уровень видимости шаблона.
type Visibility string

const (
	// VisibilityPrivate — доступен только владельцу.
	VisibilityPrivate Visibility = "PRIVATE"

	// VisibilityTenantPublic — доступен всем в рамках тенанта владельца.
	VisibilityTenantPublic Visibility = "TENANT_PUBLIC"

	// VisibilityGlobal — доступен всем.
	VisibilityGlobal Visibility = "GLOBAL"
)

// IsValid возвращает true для известных уровней видимости.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTenantPublic, VisibilityGlobal:
		return true
	default:
		return false
	}
}

// Template — определение разворачиваемого окружения.
//
// Содержимое шаблона хранится в версиях (TemplateVersion).
// Сам Template несёт только метаданные, состояние согласования и видимость.
type Template struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RepoURL     string        `json:"repo_url,omitempty"`
	OwnerID     uuid.UUID     `json:"owner_id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	Approval    ApprovalState `json:"approval"`
	Visibility  Visibility    `json:"visibility"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Footprint — ресурсы, которые потребляет одно развёртывание версии.
type Footprint struct {
	Instances int `json:"instances"`
	VCPUs     int `json:"vcpus"`
	RAMMB     int `json:"ram_mb"`
}

// TemplateVersion — неизменяемая версия содержимого шаблона.
//
// ArtifactRef и ContentHash после создания не меняются:
// артефакт адресуется по sha256 содержимого.
type TemplateVersion struct {
	ID          uuid.UUID `json:"id"`
	TemplateID  uuid.UUID `json:"template_id"`
	Version     int       `json:"version"`
	ArtifactRef string    `json:"artifact_ref"`
	ContentHash string    `json:"content_hash"`
	CommitSHA   string    `json:"commit_sha,omitempty"`
	Footprint   Footprint `json:"footprint"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// TemplateRef — ссылка на шаблон из запроса на развёртывание.
//
// Шаблон задаётся по ID или по имени. Version == 0 означает последнюю активную версию.
type TemplateRef struct {
	TemplateID uuid.UUID `json:"template_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Version    int       `json:"version,omitempty"`
}

// RequesterScope — кто запрашивает операцию.
type RequesterScope struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
}
