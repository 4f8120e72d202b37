package importer

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrInvalidHOT — документ не является HOT-шаблоном Heat.
var ErrInvalidHOT = errors.New("invalid heat orchestration template")

const novaServerType = "OS::Nova::Server"

type hotResource struct {
	Type string `yaml:"type"`
}

type hotDocument struct {
	Version   any                    `yaml:"heat_template_version"`
	Resources map[string]hotResource `yaml:"resources"`
	Outputs   map[string]any         `yaml:"outputs"`
}

// HOTSummary — то, что удалось узнать из шаблона.
type HOTSummary struct {
	// Servers — число ресурсов OS::Nova::Server.
	Servers int

	// HasInstancesOutput — шаблон описывает выход instances.
	HasInstancesOutput bool
}

// ValidateHOT проверяет структуру HOT-шаблона.
func ValidateHOT(content []byte) (*HOTSummary, error) {
	var doc hotDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHOT, err)
	}
	if doc.Version == nil {
		return nil, fmt.Errorf("%w: heat_template_version is required", ErrInvalidHOT)
	}
	if len(doc.Resources) == 0 {
		return nil, fmt.Errorf("%w: at least one resource is required", ErrInvalidHOT)
	}

	summary := &HOTSummary{}
	for name, r := range doc.Resources {
		if r.Type == "" {
			return nil, fmt.Errorf("%w: resource %q has no type", ErrInvalidHOT, name)
		}
		if r.Type == novaServerType {
			summary.Servers++
		}
	}
	_, summary.HasInstancesOutput = doc.Outputs["instances"]
	return summary, nil
}
