package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/store"
)

type templateRow struct {
	ID   string
	Name string
	T    domain.Template
}

type versionRow struct {
	ID         string
	TemplateID string
	NumberKey  string
	HashKey    string
	V          domain.TemplateVersion
}

func newVersionRow(v *domain.TemplateVersion) *versionRow {
	tid := v.TemplateID.String()
	return &versionRow{
		ID:         v.ID.String(),
		TemplateID: tid,
		NumberKey:  tid + "/" + strconv.Itoa(v.Version),
		HashKey:    tid + "/" + v.ContentHash,
		V:          *v,
	}
}

// TemplateStore — store.Templates в памяти.
type TemplateStore struct {
	db *memdb.MemDB
}

var _ store.Templates = (*TemplateStore)(nil)

// CreateTemplate сохраняет новый шаблон. Имя уникально.
func (s *TemplateStore) CreateTemplate(_ context.Context, t *domain.Template) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, lookup := range []struct{ index, value string }{
		{indexID, t.ID.String()},
		{indexName, t.Name},
	} {
		existing, err := txn.First(tableTemplates, lookup.index, lookup.value)
		if err != nil {
			return fmt.Errorf("lookup template: %w", err)
		}
		if existing != nil {
			return store.ErrAlreadyExists
		}
	}

	if err := txn.Insert(tableTemplates, &templateRow{ID: t.ID.String(), Name: t.Name, T: *t}); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	txn.Commit()
	return nil
}

// GetTemplate возвращает шаблон по ID.
func (s *TemplateStore) GetTemplate(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	return s.firstTemplate(indexID, id.String())
}

// GetTemplateByName возвращает шаблон по имени.
func (s *TemplateStore) GetTemplateByName(_ context.Context, name string) (*domain.Template, error) {
	return s.firstTemplate(indexName, name)
}

func (s *TemplateStore) firstTemplate(index, value string) (*domain.Template, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTemplates, index, value)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	t := raw.(*templateRow).T
	return &t, nil
}

// UpdateTemplate обновляет шаблон. Имя не меняется.
func (s *TemplateStore) UpdateTemplate(_ context.Context, t *domain.Template) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTemplates, indexID, t.ID.String())
	if err != nil {
		return fmt.Errorf("get template: %w", err)
	}
	if raw == nil {
		return store.ErrNotFound
	}

	updated := *t
	updated.Name = raw.(*templateRow).Name
	if err := txn.Insert(tableTemplates, &templateRow{ID: updated.ID.String(), Name: updated.Name, T: updated}); err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	txn.Commit()
	return nil
}

// CreateVersion добавляет версию шаблона.
func (s *TemplateStore) CreateVersion(_ context.Context, v *domain.TemplateVersion) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	tmpl, err := txn.First(tableTemplates, indexID, v.TemplateID.String())
	if err != nil {
		return fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return store.ErrNotFound
	}

	row := newVersionRow(v)
	for _, lookup := range []struct{ index, value string }{
		{indexID, row.ID},
		{indexNumber, row.NumberKey},
		{indexHash, row.HashKey},
	} {
		existing, err := txn.First(tableVersions, lookup.index, lookup.value)
		if err != nil {
			return fmt.Errorf("lookup version: %w", err)
		}
		if existing != nil {
			return store.ErrAlreadyExists
		}
	}

	if err := txn.Insert(tableVersions, row); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	txn.Commit()
	return nil
}

// GetVersion возвращает версию по ID.
func (s *TemplateStore) GetVersion(_ context.Context, id uuid.UUID) (*domain.TemplateVersion, error) {
	return s.firstVersion(indexID, id.String())
}

// GetVersionByNumber возвращает версию шаблона по номеру.
func (s *TemplateStore) GetVersionByNumber(_ context.Context, templateID uuid.UUID, version int) (*domain.TemplateVersion, error) {
	return s.firstVersion(indexNumber, templateID.String()+"/"+strconv.Itoa(version))
}

// GetVersionByHash возвращает версию шаблона по хешу содержимого.
func (s *TemplateStore) GetVersionByHash(_ context.Context, templateID uuid.UUID, hash string) (*domain.TemplateVersion, error) {
	return s.firstVersion(indexHash, templateID.String()+"/"+hash)
}

func (s *TemplateStore) firstVersion(index, value string) (*domain.TemplateVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableVersions, index, value)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	v := raw.(*versionRow).V
	return &v, nil
}

// ListVersions возвращает версии шаблона по возрастанию номера.
func (s *TemplateStore) ListVersions(_ context.Context, templateID uuid.UUID) ([]domain.TemplateVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableVersions, indexTemplate, templateID.String())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	var versions []domain.TemplateVersion
	for raw := it.Next(); raw != nil; raw = it.Next() {
		versions = append(versions, raw.(*versionRow).V)
	}
	slices.SortFunc(versions, func(a, b domain.TemplateVersion) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return versions, nil
}
