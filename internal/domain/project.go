package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProjectMapping — связь курса или личного пространства с проектом OpenStack.
//
// Маппинг принадлежит внешней системе управления курсами; ядро только читает его.
type ProjectMapping struct {
	ProjectID string     `json:"project_id"`
	CourseID  *uuid.UUID `json:"course_id,omitempty"`

	// OwnerID — преподаватель курса или владелец личного проекта.
	OwnerID  uuid.UUID `json:"owner_id"`
	TenantID uuid.UUID `json:"tenant_id"`
}

// IsPersonal возвращает true для личного проекта.
func (m *ProjectMapping) IsPersonal() bool {
	return m.CourseID == nil
}

// ProjectUsage — использование и лимиты вычислительных ресурсов проекта.
// Отрицательный лимит означает отсутствие ограничения.
type ProjectUsage struct {
	ProjectID string    `json:"project_id"`
	UsedVMs   int       `json:"used_vms"`
	UsedVCPUs int       `json:"used_vcpus"`
	UsedRAMMB int       `json:"used_ram_mb"`
	MaxVMs    int       `json:"max_vms"`
	MaxVCPUs  int       `json:"max_vcpus"`
	MaxRAMMB  int       `json:"max_ram_mb"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fits проверяет, помещается ли footprint в оставшуюся квоту.
func (u *ProjectUsage) Fits(fp Footprint) bool {
	return fitsLimit(u.UsedVMs, fp.Instances, u.MaxVMs) &&
		fitsLimit(u.UsedVCPUs, fp.VCPUs, u.MaxVCPUs) &&
		fitsLimit(u.UsedRAMMB, fp.RAMMB, u.MaxRAMMB)
}

func fitsLimit(used, want, limit int) bool {
	if limit < 0 {
		return true
	}
	return used+want <= limit
}
