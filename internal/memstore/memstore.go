// Package memstore — реализация интерфейсов store поверх go-memdb.
//
// Используется в тестах и при локальном запуске без PostgreSQL.
// Записи хранятся копиями: объект, вставленный в memdb, больше не меняется.
package memstore

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableDeployments = "deployments"
	tableEvents      = "deployment_events"
	tableInstances   = "deployment_instances"
	tableTemplates   = "templates"
	tableVersions    = "template_versions"
	tableTasks       = "tasks"
	tableProjects    = "project_mappings"

	indexID         = "id"
	indexDeployment = "deployment"
	indexIdem       = "idempotency"
	indexProject    = "project"
	indexName       = "name"
	indexTemplate   = "template"
	indexNumber     = "number"
	indexHash       = "hash"
)

func stringIndex(name, field string, unique, allowMissing bool) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:         name,
		Unique:       unique,
		AllowMissing: allowMissing,
		Indexer:      &memdb.StringFieldIndex{Field: field},
	}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableDeployments: {
				Name: tableDeployments,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:      stringIndex(indexID, "ID", true, false),
					indexIdem:    stringIndex(indexIdem, "IdemKey", true, true),
					indexProject: stringIndex(indexProject, "ProjectID", false, true),
				},
			},
			tableEvents: {
				Name: tableEvents,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:         stringIndex(indexID, "ID", true, false),
					indexDeployment: stringIndex(indexDeployment, "DeploymentID", false, false),
				},
			},
			tableInstances: {
				Name: tableInstances,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:         stringIndex(indexID, "ID", true, false),
					indexDeployment: stringIndex(indexDeployment, "DeploymentID", false, false),
				},
			},
			tableTemplates: {
				Name: tableTemplates,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:   stringIndex(indexID, "ID", true, false),
					indexName: stringIndex(indexName, "Name", true, false),
				},
			},
			tableVersions: {
				Name: tableVersions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       stringIndex(indexID, "ID", true, false),
					indexTemplate: stringIndex(indexTemplate, "TemplateID", false, false),
					indexNumber:   stringIndex(indexNumber, "NumberKey", true, false),
					indexHash:     stringIndex(indexHash, "HashKey", true, false),
				},
			},
			tableTasks: {
				Name: tableTasks,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:         stringIndex(indexID, "ID", true, false),
					indexDeployment: stringIndex(indexDeployment, "DeploymentID", false, false),
				},
			},
			tableProjects: {
				Name: tableProjects,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: stringIndex(indexID, "Key", true, false),
				},
			},
		},
	}
}

// DB — набор хранилищ поверх одной базы memdb.
type DB struct {
	Deployments *DeploymentStore
	Templates   *TemplateStore
	Tasks       *TaskStore
	Projects    *ProjectStore
}

// New создаёт пустую базу.
func New() (*DB, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &DB{
		Deployments: &DeploymentStore{db: db},
		Templates:   &TemplateStore{db: db},
		Tasks:       &TaskStore{db: db},
		Projects:    &ProjectStore{db: db},
	}, nil
}

// MustNew — New для тестов.
func MustNew() *DB {
	db, err := New()
	if err != nil {
		panic(err)
	}
	return db
}
