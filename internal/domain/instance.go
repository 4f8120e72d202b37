package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccessProtocol — способ доступа к инстансу.
type AccessProtocol string

const (
	AccessSSH       AccessProtocol = "ssh"
	AccessWebURL    AccessProtocol = "web_url"
	AccessGuacamole AccessProtocol = "guacamole"
	AccessRDP       AccessProtocol = "rdp"
	AccessVNC       AccessProtocol = "vnc"
)

// IsValid возвращает true для известных протоколов.
func (p AccessProtocol) IsValid() bool {
	switch p {
	case AccessSSH, AccessWebURL, AccessGuacamole, AccessRDP, AccessVNC:
		return true
	default:
		return false
	}
}

// AccessEndpoint — описание точки доступа.
//
// Учётные данные сюда не попадают: SecretHandle — непрозрачная ссылка в хранилище секретов.
type AccessEndpoint struct {
	Protocol     AccessProtocol `json:"protocol"`
	Address      string         `json:"address,omitempty"`
	Port         int            `json:"port,omitempty"`
	URL          string         `json:"url,omitempty"`
	Username     string         `json:"username,omitempty"`
	SecretHandle string         `json:"secret_handle,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

// DeploymentInstance — ресурс, созданный стеком (обычно сервер).
type DeploymentInstance struct {
	ID           uuid.UUID        `json:"id"`
	DeploymentID uuid.UUID        `json:"deployment_id"`
	ResourceID   string           `json:"resource_id"`
	Name         string           `json:"name"`
	Address      string           `json:"address,omitempty"`
	Endpoints    []AccessEndpoint `json:"endpoints,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SecretHandles возвращает все ссылки на секреты инстанса.
func (i *DeploymentInstance) SecretHandles() []string {
	var handles []string
	for _, ep := range i.Endpoints {
		if ep.SecretHandle != "" {
			handles = append(handles, ep.SecretHandle)
		}
	}
	return handles
}
