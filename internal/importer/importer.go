// Package importer — разовый импорт шаблона из git-репозитория.
//
// Репозиторий клонируется в память, файл шаблона читается из указанного
// коммита, проверяется и публикуется новой версией в реестре.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/registry"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

const (
	// DefaultPath — путь к шаблону в репозитории по умолчанию.
	DefaultPath = "template.yaml"

	// DefaultSlugBase — куда раскрывается ссылка вида owner/repo.
	DefaultSlugBase = "https://github.com/"
)

// Publisher публикует версии шаблонов.
type Publisher interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	PublishVersion(ctx context.Context, templateID uuid.UUID, content []byte, meta registry.VersionMeta) (*domain.TemplateVersion, error)
}

// OpenFunc открывает репозиторий по URL.
type OpenFunc func(ctx context.Context, url string) (*git.Repository, error)

// Source — откуда брать шаблон.
type Source struct {
	// RepoURL — URL репозитория; пустой — RepoURL шаблона.
	RepoURL string

	// Ref — ветка, тег или коммит; пустой — HEAD.
	Ref string

	// Path — путь к файлу шаблона.
	Path string
}

// Importer импортирует шаблоны из git.
type Importer struct {
	publisher Publisher
	open      OpenFunc
	slugBase  string
	logger    *slog.Logger
}

// Option настраивает Importer.
type Option func(*Importer)

// WithOpenFunc подменяет способ открытия репозитория.
func WithOpenFunc(open OpenFunc) Option {
	return func(i *Importer) { i.open = open }
}

// WithSlugBase задаёт базовый URL для ссылок owner/repo.
func WithSlugBase(base string) Option {
	return func(i *Importer) { i.slugBase = base }
}

// New создаёт Importer.
func New(publisher Publisher, logger *slog.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Importer{
		publisher: publisher,
		open:      CloneInMemory,
		slugBase:  DefaultSlugBase,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// CloneInMemory клонирует репозиторий без рабочей копии.
func CloneInMemory(ctx context.Context, url string) (*git.Repository, error) {
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:  url,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return repo, nil
}

// RepoURL раскрывает ссылку owner/repo в URL.
func (i *Importer) RepoURL(ref string) string {
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "git@") {
		return ref
	}
	if strings.Count(ref, "/") == 1 && !strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, ".") {
		return strings.TrimSuffix(i.slugBase, "/") + "/" + ref + ".git"
	}
	return ref
}

// Import читает шаблон из репозитория и публикует его версией шаблона templateID.
//
// Если fp.Instances не задан, берётся число серверов из шаблона.
func (i *Importer) Import(ctx context.Context, templateID uuid.UUID, src Source, fp domain.Footprint) (*domain.TemplateVersion, error) {
	logger := telemetry.WithTemplateID(i.logger, templateID.String())

	if src.RepoURL == "" {
		t, err := i.publisher.GetTemplate(ctx, templateID)
		if err != nil {
			return nil, err
		}
		src.RepoURL = t.RepoURL
	}
	if src.RepoURL == "" {
		return nil, fmt.Errorf("%w: template has no repository", registry.ErrInvalidTemplate)
	}
	if err := registry.ValidateRepoURL(src.RepoURL); err != nil {
		return nil, err
	}
	if src.Path == "" {
		src.Path = DefaultPath
	}

	repo, err := i.open(ctx, i.RepoURL(src.RepoURL))
	if err != nil {
		return nil, err
	}

	content, sha, err := readFile(repo, src.Ref, src.Path)
	if err != nil {
		return nil, err
	}

	summary, err := ValidateHOT(content)
	if err != nil {
		return nil, err
	}
	if fp.Instances == 0 {
		fp.Instances = summary.Servers
	}
	if !summary.HasInstancesOutput {
		logger.Warn("template has no instances output, access endpoints will be empty", "path", src.Path)
	}

	v, err := i.publisher.PublishVersion(ctx, templateID, content, registry.VersionMeta{
		CommitSHA: sha,
		Footprint: fp,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("template imported",
		"repo", src.RepoURL,
		"commit", sha,
		"version", v.Version,
	)
	return v, nil
}

// readFile читает файл из коммита ref и возвращает содержимое и SHA коммита.
func readFile(repo *git.Repository, ref, path string) ([]byte, string, error) {
	hash, err := resolve(repo, ref)
	if err != nil {
		return nil, "", err
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, "", fmt.Errorf("get commit %s: %w", hash, err)
	}
	file, err := commit.File(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s at %s: %w", path, hash.String()[:8], err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return []byte(contents), hash.String(), nil
}

func resolve(repo *git.Repository, ref string) (*plumbing.Hash, error) {
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}
		h := head.Hash()
		return &h, nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err == nil {
		return hash, nil
	}
	// Ветки, кроме ветки по умолчанию, после клона есть только как origin/<name>.
	if remote, rerr := repo.ResolveRevision(plumbing.Revision("origin/" + ref)); rerr == nil {
		return remote, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", ref, err)
}
