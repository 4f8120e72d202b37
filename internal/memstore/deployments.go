package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

type deploymentRow struct {
	ID        string
	IdemKey   string
	ProjectID string
	D         *domain.Deployment
}

type eventRow struct {
	ID           string
	DeploymentID string
	E            domain.DeploymentEvent
}

type instanceRow struct {
	ID           string
	DeploymentID string
	I            domain.DeploymentInstance
}

func idemKey(ownerID uuid.UUID, key string) string {
	if key == "" {
		return ""
	}
	return ownerID.String() + "/" + key
}

func newDeploymentRow(d *domain.Deployment) *deploymentRow {
	return &deploymentRow{
		ID:        d.ID.String(),
		IdemKey:   idemKey(d.OwnerID, d.IdempotencyKey),
		ProjectID: d.ProjectID,
		D:         d.Clone(),
	}
}

func cloneInstance(i domain.DeploymentInstance) domain.DeploymentInstance {
	i.Endpoints = slices.Clone(i.Endpoints)
	return i
}

// DeploymentStore — store.Deployments в памяти.
type DeploymentStore struct {
	db *memdb.MemDB
}

var _ store.Deployments = (*DeploymentStore)(nil)

// Create сохраняет новое развёртывание и первое событие.
func (s *DeploymentStore) Create(_ context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableDeployments, indexID, d.ID.String())
	if err != nil {
		return fmt.Errorf("lookup deployment: %w", err)
	}
	if existing != nil {
		return store.ErrAlreadyExists
	}

	if key := idemKey(d.OwnerID, d.IdempotencyKey); key != "" {
		existing, err := txn.First(tableDeployments, indexIdem, key)
		if err != nil {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			return store.ErrAlreadyExists
		}
	}

	if err := txn.Insert(tableDeployments, newDeploymentRow(d)); err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	if ev != nil {
		if err := insertEvent(txn, ev); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// Get возвращает развёртывание по ID.
func (s *DeploymentStore) Get(_ context.Context, id uuid.UUID) (*domain.Deployment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableDeployments, indexID, id.String())
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	return raw.(*deploymentRow).D.Clone(), nil
}

// GetByIdempotencyKey возвращает развёртывание по ключу идемпотентности владельца.
func (s *DeploymentStore) GetByIdempotencyKey(_ context.Context, ownerID uuid.UUID, key string) (*domain.Deployment, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableDeployments, indexIdem, idemKey(ownerID, key))
	if err != nil {
		return nil, fmt.Errorf("get deployment by idempotency key: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	return raw.(*deploymentRow).D.Clone(), nil
}

// CompareAndSwap записывает d, если ревизия в базе равна expected.
func (s *DeploymentStore) CompareAndSwap(_ context.Context, d *domain.Deployment, expected int64, change store.Change) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableDeployments, indexID, d.ID.String())
	if err != nil {
		return fmt.Errorf("get deployment: %w", err)
	}
	if raw == nil {
		return store.ErrNotFound
	}
	if raw.(*deploymentRow).D.Revision != expected {
		return store.ErrRevisionMismatch
	}

	if err := txn.Insert(tableDeployments, newDeploymentRow(d)); err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}

	if change.Event != nil {
		if err := insertEvent(txn, change.Event); err != nil {
			return err
		}
	}

	if change.ReplaceInstances {
		if _, err := txn.DeleteAll(tableInstances, indexDeployment, d.ID.String()); err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		for _, inst := range change.Instances {
			row := &instanceRow{
				ID:           inst.ID.String(),
				DeploymentID: d.ID.String(),
				I:            cloneInstance(inst),
			}
			if err := txn.Insert(tableInstances, row); err != nil {
				return fmt.Errorf("insert instance: %w", err)
			}
		}
	}

	txn.Commit()
	return nil
}

// ListEvents возвращает историю по возрастанию ревизии.
func (s *DeploymentStore) ListEvents(_ context.Context, deploymentID uuid.UUID) ([]domain.DeploymentEvent, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEvents, indexDeployment, deploymentID.String())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var events []domain.DeploymentEvent
	for raw := it.Next(); raw != nil; raw = it.Next() {
		events = append(events, raw.(*eventRow).E)
	}
	slices.SortFunc(events, func(a, b domain.DeploymentEvent) int {
		return cmp.Compare(a.Revision, b.Revision)
	})
	return events, nil
}

// ListInstances возвращает инстансы развёртывания.
func (s *DeploymentStore) ListInstances(_ context.Context, deploymentID uuid.UUID) ([]domain.DeploymentInstance, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableInstances, indexDeployment, deploymentID.String())
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var instances []domain.DeploymentInstance
	for raw := it.Next(); raw != nil; raw = it.Next() {
		instances = append(instances, cloneInstance(raw.(*instanceRow).I))
	}
	slices.SortFunc(instances, func(a, b domain.DeploymentInstance) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return instances, nil
}

// ListStale возвращает развёртывания с невыполненной работой, не менявшиеся с before.
func (s *DeploymentStore) ListStale(_ context.Context, before time.Time, limit int) ([]domain.Deployment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableDeployments, indexID)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	var result []domain.Deployment
	for raw := it.Next(); raw != nil; raw = it.Next() {
		d := raw.(*deploymentRow).D
		if d.NeedsWork() && d.UpdatedAt.Before(before) {
			result = append(result, *d.Clone())
		}
	}
	slices.SortFunc(result, func(a, b domain.Deployment) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByProject возвращает не удалённые развёртывания проекта.
func (s *DeploymentStore) ListByProject(_ context.Context, projectID string) ([]domain.Deployment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableDeployments, indexProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("list deployments by project: %w", err)
	}

	var result []domain.Deployment
	for raw := it.Next(); raw != nil; raw = it.Next() {
		d := raw.(*deploymentRow).D
		if d.State != domain.StateDeleted {
			result = append(result, *d.Clone())
		}
	}
	slices.SortFunc(result, func(a, b domain.Deployment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func insertEvent(txn *memdb.Txn, ev *domain.DeploymentEvent) error {
	row := &eventRow{
		ID:           ev.ID.String(),
		DeploymentID: ev.DeploymentID.String(),
		E:            *ev,
	}
	if err := txn.Insert(tableEvents, row); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
