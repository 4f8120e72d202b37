package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/memstore"
)

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []uuid.UUID
}

func (n *recordingNotifier) PublishTaskReady(_ context.Context, taskID, _ uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, taskID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tasks)
}

func createDeployment(t *testing.T, db *memstore.DB, state domain.DeploymentState, age time.Duration) *domain.Deployment {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	d := &domain.Deployment{
		ID:        id,
		OwnerID:   uuid.New(),
		ProjectID: "proj-1",
		State:     state,
		Revision:  1,
		StackName: domain.StackNameFor(id),
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
	require.NoError(t, db.Deployments.Create(context.Background(), d, nil))
	return d
}

func TestScheduler_TickRequeuesStalled(t *testing.T) {
	ctx := context.Background()
	db := memstore.MustNew()
	notifier := &recordingNotifier{}

	stalled := createDeployment(t, db, domain.StateRequested, time.Hour)
	fresh := createDeployment(t, db, domain.StateRequested, 0)
	active := createDeployment(t, db, domain.StateActive, time.Hour)

	s := New(Config{
		Deployments: db.Deployments,
		Tasks:       db.Tasks,
		Notifier:    notifier,
		StaleAfter:  time.Minute,
	})

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, notifier.count())

	open, err := db.Tasks.HasOpenTask(ctx, stalled.ID)
	require.NoError(t, err)
	assert.True(t, open)

	for _, d := range []*domain.Deployment{fresh, active} {
		open, err := db.Tasks.HasOpenTask(ctx, d.ID)
		require.NoError(t, err)
		assert.False(t, open, d.State)
	}

	task, err := db.Tasks.Dequeue(ctx, "test", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskKindRecover, task.Kind)
	assert.Equal(t, stalled.ID, task.DeploymentID)
}

func TestScheduler_TickSkipsOpenTask(t *testing.T) {
	ctx := context.Background()
	db := memstore.MustNew()

	d := createDeployment(t, db, domain.StateProvisioning, time.Hour)
	require.NoError(t, db.Tasks.Enqueue(ctx, domain.NewTask(d.ID, domain.TaskKindProvision)))

	s := New(Config{Deployments: db.Deployments, Tasks: db.Tasks, StaleAfter: time.Minute})

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Повторный обход тоже не плодит задач.
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_TickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := memstore.MustNew()
	createDeployment(t, db, domain.StateDeleting, time.Hour)

	s := New(Config{Deployments: db.Deployments, Tasks: db.Tasks, StaleAfter: time.Minute})

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_BatchSize(t *testing.T) {
	ctx := context.Background()
	db := memstore.MustNew()
	var created []*domain.Deployment
	for i := 0; i < 3; i++ {
		created = append(created, createDeployment(t, db, domain.StateRequested, time.Duration(i+1)*time.Hour))
	}

	s := New(Config{Deployments: db.Deployments, Tasks: db.Tasks, StaleAfter: time.Minute, BatchSize: 2})

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Обход идёт от самых старых записей.
	for i, want := range []bool{false, true, true} {
		open, err := db.Tasks.HasOpenTask(ctx, created[i].ID)
		require.NoError(t, err)
		assert.Equal(t, want, open, i)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	db := memstore.MustNew()
	d := createDeployment(t, db, domain.StateRequested, time.Hour)

	s := New(Config{
		Deployments: db.Deployments,
		Tasks:       db.Tasks,
		StaleAfter:  time.Minute,
		Schedule:    "@every 1s",
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		open, err := db.Tasks.HasOpenTask(context.Background(), d.ID)
		return err == nil && open
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_StartInvalidSchedule(t *testing.T) {
	db := memstore.MustNew()
	s := New(Config{Deployments: db.Deployments, Tasks: db.Tasks, Schedule: "not a schedule"})

	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 30s", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"* * *", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
