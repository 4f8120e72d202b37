package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

type taskRow struct {
	ID           string
	DeploymentID string
	T            domain.Task
}

func newTaskRow(t domain.Task) *taskRow {
	if t.LockedUntil != nil {
		until := *t.LockedUntil
		t.LockedUntil = &until
	}
	return &taskRow{ID: t.ID.String(), DeploymentID: t.DeploymentID.String(), T: t}
}

func (r *taskRow) task() *domain.Task {
	t := newTaskRow(r.T).T
	return &t
}

// TaskStore — store.Tasks в памяти.
//
// Write-транзакции memdb сериализованы, поэтому Dequeue атомарен.
type TaskStore struct {
	db *memdb.MemDB
}

var _ store.Tasks = (*TaskStore)(nil)

// Enqueue ставит задачу в очередь.
func (s *TaskStore) Enqueue(_ context.Context, t *domain.Task) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableTasks, indexID, t.ID.String())
	if err != nil {
		return fmt.Errorf("lookup task: %w", err)
	}
	if existing != nil {
		return store.ErrAlreadyExists
	}

	if err := txn.Insert(tableTasks, newTaskRow(*t)); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	txn.Commit()
	return nil
}

// Dequeue захватывает самую раннюю доступную задачу.
func (s *TaskStore) Dequeue(_ context.Context, owner string, visibility time.Duration) (*domain.Task, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableTasks, indexID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	now := time.Now().UTC()
	var picked *taskRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*taskRow)
		if !row.T.IsEligible(now) {
			continue
		}
		if picked == nil || earlier(&row.T, &picked.T) {
			picked = row
		}
	}
	if picked == nil {
		return nil, store.ErrNoTask
	}

	t := *picked.task()
	until := now.Add(visibility)
	t.Status = domain.TaskStatusRunning
	t.Attempt++
	t.LockedBy = owner
	t.LockedUntil = &until
	t.UpdatedAt = now

	if err := txn.Insert(tableTasks, newTaskRow(t)); err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	txn.Commit()
	return &t, nil
}

func earlier(a, b *domain.Task) bool {
	if !a.NotBefore.Equal(b.NotBefore) {
		return a.NotBefore.Before(b.NotBefore)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Complete помечает задачу выполненной, если захват claim ещё актуален.
func (s *TaskStore) Complete(_ context.Context, claim *domain.Task) error {
	return s.update(claim, func(t *domain.Task) {
		t.Status = domain.TaskStatusDone
		t.LockedBy = ""
		t.LockedUntil = nil
	})
}

// Requeue возвращает захваченную задачу в очередь не раньше notBefore.
func (s *TaskStore) Requeue(_ context.Context, claim *domain.Task, notBefore time.Time) error {
	return s.update(claim, func(t *domain.Task) {
		t.Status = domain.TaskStatusQueued
		t.NotBefore = notBefore.UTC()
		t.LockedBy = ""
		t.LockedUntil = nil
	})
}

// update меняет задачу, пока захват claim актуален.
func (s *TaskStore) update(claim *domain.Task, fn func(t *domain.Task)) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTasks, indexID, claim.ID.String())
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if raw == nil {
		return store.ErrClaimLost
	}

	t := raw.(*taskRow).task()
	if t.Status != domain.TaskStatusRunning || t.LockedBy != claim.LockedBy || t.Attempt != claim.Attempt {
		return store.ErrClaimLost
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()

	if err := txn.Insert(tableTasks, newTaskRow(*t)); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	txn.Commit()
	return nil
}

// HasOpenTask — есть ли у развёртывания незавершённая задача.
func (s *TaskStore) HasOpenTask(_ context.Context, deploymentID uuid.UUID) (bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTasks, indexDeployment, deploymentID.String())
	if err != nil {
		return false, fmt.Errorf("list tasks: %w", err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if raw.(*taskRow).T.Status != domain.TaskStatusDone {
			return true, nil
		}
	}
	return false, nil
}
