package openstack

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Dozilab/internal/domain"
)

// InstancesOutput — имя выхода стека со списком инстансов.
const InstancesOutput = "instances"

// StackAccess — точка доступа из выхода стека.
// Secret — учётные данные в открытом виде, до записи в хранилище секретов.
type StackAccess struct {
	Protocol domain.AccessProtocol `json:"protocol"`
	Port     int                   `json:"port,omitempty"`
	Username string                `json:"username,omitempty"`
	URL      string                `json:"url,omitempty"`
	Secret   string                `json:"secret,omitempty"`
}

// StackInstance — инстанс из выхода стека.
type StackInstance struct {
	Name     string        `json:"name"`
	ServerID string        `json:"server_id"`
	Address  string        `json:"address,omitempty"`
	Access   []StackAccess `json:"access,omitempty"`
}

// ParseInstances разбирает выход "instances".
//
// Heat отдаёт значение выхода как JSON-структуру или как строку с JSON.
// Отсутствие выхода не ошибка: шаблон может не описывать доступ.
func ParseInstances(outputs map[string]any) ([]StackInstance, error) {
	raw, ok := outputs[InstancesOutput]
	if !ok || raw == nil {
		return nil, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s output: %w", InstancesOutput, err)
		}
		data = b
	}

	var instances []StackInstance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, domain.NewFatalError("stack output "+InstancesOutput+" is malformed", err)
	}

	for i, inst := range instances {
		if inst.ServerID == "" {
			return nil, domain.NewFatalError(fmt.Sprintf("stack output %s[%d] has no server_id", InstancesOutput, i), nil)
		}
		for _, a := range inst.Access {
			if !a.Protocol.IsValid() {
				return nil, domain.NewFatalError(fmt.Sprintf("stack output %s[%d] has unknown protocol %q", InstancesOutput, i, a.Protocol), nil)
			}
		}
	}
	return instances, nil
}
