package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/config"
	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/lease"
	"github.com/shaiso/Dozilab/internal/orchestrator"
	"github.com/shaiso/Dozilab/internal/registry"
	"github.com/shaiso/Dozilab/internal/secrets"
)

const hot = "heat_template_version: 2021-04-16\nresources:\n  vm:\n    type: OS::Nova::Server\n"

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("RABBITMQ_URL", "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store = config.StoreMemory
	cfg.OpenStack.Backend = config.OpenStackFake
	cfg.Executor.Backoff.Base = time.Millisecond
	cfg.Executor.Backoff.Max = 5 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_MemoryFallbacks(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Pool)
	assert.Nil(t, a.MQ)
	assert.Nil(t, a.Publisher)
	assert.Nil(t, a.Redis)
	assert.NotNil(t, a.Fake)
	assert.IsType(t, &lease.LocalManager{}, a.Leases)
	assert.IsType(t, &secrets.MemoryStore{}, a.Secrets)

	_, err = a.Migrator()
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.NoError(t, a.Ready(context.Background()))
}

func TestApp_DeploymentLifecycle(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	owner, tenant := uuid.New(), uuid.New()
	tmpl, err := a.Registry.CreateTemplate(ctx, registry.NewTemplate{
		Name:       "Linux Lab",
		OwnerID:    owner,
		TenantID:   tenant,
		Visibility: domain.VisibilityTenantPublic,
	})
	require.NoError(t, err)
	_, err = a.Registry.Submit(ctx, tmpl.ID)
	require.NoError(t, err)
	_, err = a.Registry.Approve(ctx, tmpl.ID)
	require.NoError(t, err)
	_, err = a.Registry.PublishVersion(ctx, tmpl.ID, []byte(hot), registry.VersionMeta{
		Footprint: domain.Footprint{Instances: 1, VCPUs: 1, RAMMB: 1024},
	})
	require.NoError(t, err)
	require.NoError(t, a.Projects.PutMapping(ctx, &domain.ProjectMapping{
		ProjectID: "proj-dev",
		OwnerID:   owner,
		TenantID:  tenant,
	}))

	id, err := a.Orchestrator.RequestDeployment(ctx, orchestrator.DeploymentRequest{
		Template: domain.TemplateRef{TemplateID: tmpl.ID},
		Scope:    domain.RequesterScope{UserID: owner, TenantID: tenant},
	})
	require.NoError(t, err)

	w := a.Worker()
	drain := func(want domain.DeploymentState) {
		t.Helper()
		for i := 0; i < 20; i++ {
			_, err := w.RunOnce(ctx)
			require.NoError(t, err)
			view, err := a.Orchestrator.GetStatus(ctx, id)
			require.NoError(t, err)
			if view.State == want {
				return
			}
		}
		t.Fatalf("deployment did not reach %s", want)
	}

	drain(domain.StateActive)
	assert.Len(t, a.Fake.Stacks(), 1)

	require.NoError(t, a.Orchestrator.RequestDeletion(ctx, id))
	drain(domain.StateDeleted)

	events, err := a.Orchestrator.History(ctx, id)
	require.NoError(t, err)
	assert.True(t, domain.IsValidHistory(events))
}

func TestApp_SweeperRecoversLostTask(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Sweeper.StaleAfter = time.Nanosecond
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	d, err := a.States.Create(ctx, &domain.Deployment{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		ProjectID: "proj-dev",
	})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	n, err := a.Sweeper().Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	open, err := a.Tasks.HasOpenTask(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, open)
}
