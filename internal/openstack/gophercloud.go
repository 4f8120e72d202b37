package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gophercloud/gophercloud/v2"
	gopenstack "github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/limits"
	"github.com/gophercloud/gophercloud/v2/openstack/orchestration/v1/stacks"

	"github.com/shaiso/Dozilab/internal/domain"
)

var errEmptyID = errors.New("openstack returned empty stack id")

// Config — параметры подключения к OpenStack.
type Config struct {
	// Region — регион каталога сервисов.
	Region string

	// Auth — учётные данные. Пустые поля берутся из окружения OS_*.
	Auth gophercloud.AuthOptions

	Breaker BreakerConfig
}

// projectClients — клиенты, авторизованные в одном проекте.
type projectClients struct {
	orchestration *gophercloud.ServiceClient
	compute       *gophercloud.ServiceClient
}

// GophercloudBackend — Backend поверх gophercloud.
//
// Стеки Heat живут в проекте токена, поэтому клиенты создаются на каждый
// проект и кешируются.
type GophercloudBackend struct {
	auth   gophercloud.AuthOptions
	region string

	mu      sync.Mutex
	clients map[string]*projectClients
}

var _ Backend = (*GophercloudBackend)(nil)

// New создаёт адаптер поверх gophercloud.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	backend, err := NewGophercloudBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(backend, cfg.Breaker, logger), nil
}

// NewGophercloudBackend создаёт backend. Авторизация откладывается до первого запроса.
func NewGophercloudBackend(cfg Config) (*GophercloudBackend, error) {
	auth := cfg.Auth
	if auth.IdentityEndpoint == "" {
		env, err := gopenstack.AuthOptionsFromEnv()
		if err != nil {
			return nil, fmt.Errorf("openstack auth options: %w", err)
		}
		auth = env
	}
	auth.AllowReauth = true

	return &GophercloudBackend{
		auth:    auth,
		region:  cfg.Region,
		clients: make(map[string]*projectClients),
	}, nil
}

func (b *GophercloudBackend) project(ctx context.Context, projectID string) (*projectClients, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[projectID]; ok {
		return c, nil
	}

	auth := b.auth
	if projectID != "" {
		auth.TenantID = projectID
		auth.TenantName = ""
		auth.Scope = nil
	}

	provider, err := gopenstack.AuthenticatedClient(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	eo := gophercloud.EndpointOpts{Region: b.region}
	orchestration, err := gopenstack.NewOrchestrationV1(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("orchestration client: %w", err)
	}
	compute, err := gopenstack.NewComputeV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("compute client: %w", err)
	}

	c := &projectClients{orchestration: orchestration, compute: compute}
	b.clients[projectID] = c
	return c, nil
}

func heatParameters(params map[string]string) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func timeoutMinutes(spec StackSpec) int {
	if spec.Timeout <= 0 {
		return 0
	}
	return max(1, int(spec.Timeout.Minutes()))
}

// CreateStack реализует Backend.
func (b *GophercloudBackend) CreateStack(ctx context.Context, spec StackSpec) (string, error) {
	c, err := b.project(ctx, spec.ProjectID)
	if err != nil {
		return "", err
	}

	opts := stacks.CreateOpts{
		Name:         spec.Name,
		TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: spec.Template}},
		Parameters:   heatParameters(spec.Parameters),
		Timeout:      timeoutMinutes(spec),
		Tags:         []string{"dozilab"},
	}
	created, err := stacks.Create(ctx, c.orchestration, opts).Extract()
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errEmptyID
	}
	return created.ID, nil
}

// FindStack реализует Backend.
func (b *GophercloudBackend) FindStack(ctx context.Context, projectID, name string) (*Stack, error) {
	c, err := b.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s, err := stacks.Find(ctx, c.orchestration, name).Extract()
	if err != nil {
		return nil, err
	}
	return toStack(s), nil
}

// GetStack реализует Backend.
func (b *GophercloudBackend) GetStack(ctx context.Context, ref StackRef) (*Stack, error) {
	c, err := b.project(ctx, ref.ProjectID)
	if err != nil {
		return nil, err
	}
	s, err := stacks.Get(ctx, c.orchestration, ref.Name, ref.ID).Extract()
	if err != nil {
		return nil, err
	}
	return toStack(s), nil
}

// UpdateStack реализует Backend.
func (b *GophercloudBackend) UpdateStack(ctx context.Context, ref StackRef, spec StackSpec) error {
	c, err := b.project(ctx, ref.ProjectID)
	if err != nil {
		return err
	}
	opts := stacks.UpdateOpts{
		TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: spec.Template}},
		Parameters:   heatParameters(spec.Parameters),
		Timeout:      timeoutMinutes(spec),
	}
	return stacks.Update(ctx, c.orchestration, ref.Name, ref.ID, opts).ExtractErr()
}

// DeleteStack реализует Backend.
func (b *GophercloudBackend) DeleteStack(ctx context.Context, ref StackRef) error {
	c, err := b.project(ctx, ref.ProjectID)
	if err != nil {
		return err
	}
	return stacks.Delete(ctx, c.orchestration, ref.Name, ref.ID).ExtractErr()
}

// Limits реализует Backend.
func (b *GophercloudBackend) Limits(ctx context.Context, projectID string) (*domain.ProjectUsage, error) {
	c, err := b.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	l, err := limits.Get(ctx, c.compute, limits.GetOpts{TenantID: projectID}).Extract()
	if err != nil {
		return nil, err
	}

	abs := l.Absolute
	return &domain.ProjectUsage{
		ProjectID: projectID,
		UsedVMs:   abs.TotalInstancesUsed,
		UsedVCPUs: abs.TotalCoresUsed,
		UsedRAMMB: abs.TotalRAMUsed,
		MaxVMs:    abs.MaxTotalInstances,
		MaxVCPUs:  abs.MaxTotalCores,
		MaxRAMMB:  abs.MaxTotalRAMSize,
	}, nil
}

func toStack(s *stacks.RetrievedStack) *Stack {
	outputs := make(map[string]any, len(s.Outputs))
	for _, o := range s.Outputs {
		key, ok := o["output_key"].(string)
		if !ok {
			continue
		}
		outputs[key] = o["output_value"]
	}
	return &Stack{
		ID:           s.ID,
		Name:         s.Name,
		Status:       s.Status,
		StatusReason: s.StatusReason,
		Outputs:      outputs,
	}
}
