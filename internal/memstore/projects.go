package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

type projectRow struct {
	Key string
	M   domain.ProjectMapping
}

func courseKey(id uuid.UUID) string { return "course:" + id.String() }
func personalKey(id uuid.UUID) string { return "owner:" + id.String() }

// ProjectStore — store.Projects в памяти.
type ProjectStore struct {
	db *memdb.MemDB
}

var _ store.Projects = (*ProjectStore)(nil)

// CourseProject возвращает проект курса.
func (s *ProjectStore) CourseProject(_ context.Context, courseID uuid.UUID) (*domain.ProjectMapping, error) {
	return s.get(courseKey(courseID))
}

// PersonalProject возвращает личный проект владельца.
func (s *ProjectStore) PersonalProject(_ context.Context, ownerID uuid.UUID) (*domain.ProjectMapping, error) {
	return s.get(personalKey(ownerID))
}

func (s *ProjectStore) get(key string) (*domain.ProjectMapping, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableProjects, indexID, key)
	if err != nil {
		return nil, fmt.Errorf("get project mapping: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	m := raw.(*projectRow).M
	return &m, nil
}

// PutMapping создаёт или заменяет маппинг.
func (s *ProjectStore) PutMapping(_ context.Context, m *domain.ProjectMapping) error {
	key := personalKey(m.OwnerID)
	if m.CourseID != nil {
		key = courseKey(*m.CourseID)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tableProjects, &projectRow{Key: key, M: *m}); err != nil {
		return fmt.Errorf("put project mapping: %w", err)
	}
	txn.Commit()
	return nil
}
