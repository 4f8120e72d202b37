package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/artifact"
	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/memstore"
)

const hot = "heat_template_version: 2021-04-16\nresources: {}\n"

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Config{
		Templates: memstore.MustNew().Templates,
		Artifacts: artifact.NewMemoryStore(),
	})
}

func approvedTemplate(t *testing.T, r *Registry, vis domain.Visibility) *domain.Template {
	t.Helper()
	ctx := context.Background()
	tmpl, err := r.CreateTemplate(ctx, NewTemplate{
		Name:       "linux-lab-" + uuid.NewString()[:8],
		OwnerID:    uuid.New(),
		TenantID:   uuid.New(),
		Visibility: vis,
	})
	require.NoError(t, err)
	_, err = r.Submit(ctx, tmpl.ID)
	require.NoError(t, err)
	tmpl, err = r.Approve(ctx, tmpl.ID)
	require.NoError(t, err)
	return tmpl
}

func TestDeployable(t *testing.T) {
	t.Parallel()

	owner, tenant := uuid.New(), uuid.New()
	base := domain.Template{OwnerID: owner, TenantID: tenant, Approval: domain.ApprovalApproved}

	tests := []struct {
		name       string
		approval   domain.ApprovalState
		visibility domain.Visibility
		scope      domain.RequesterScope
		want       bool
	}{
		{"global any user", domain.ApprovalApproved, domain.VisibilityGlobal, domain.RequesterScope{UserID: uuid.New(), TenantID: uuid.New()}, true},
		{"tenant same tenant", domain.ApprovalApproved, domain.VisibilityTenantPublic, domain.RequesterScope{UserID: uuid.New(), TenantID: tenant}, true},
		{"tenant other tenant", domain.ApprovalApproved, domain.VisibilityTenantPublic, domain.RequesterScope{UserID: uuid.New(), TenantID: uuid.New()}, false},
		{"private owner", domain.ApprovalApproved, domain.VisibilityPrivate, domain.RequesterScope{UserID: owner, TenantID: tenant}, true},
		{"private stranger in tenant", domain.ApprovalApproved, domain.VisibilityPrivate, domain.RequesterScope{UserID: uuid.New(), TenantID: tenant}, false},
		{"pending owner", domain.ApprovalPending, domain.VisibilityGlobal, domain.RequesterScope{UserID: owner}, false},
		{"deprecated", domain.ApprovalDeprecated, domain.VisibilityGlobal, domain.RequesterScope{UserID: owner}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpl := base
			tmpl.Approval = tt.approval
			tmpl.Visibility = tt.visibility
			assert.Equal(t, tt.want, Deployable(&tmpl, tt.scope))
		})
	}
}

func TestPublishVersion_ContentAddressed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t)
	tmpl := approvedTemplate(t, r, domain.VisibilityGlobal)

	v1, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot), VersionMeta{Footprint: domain.Footprint{Instances: 1, VCPUs: 2, RAMMB: 2048}})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, artifact.HashContent([]byte(hot)), v1.ContentHash)
	assert.True(t, v1.IsActive)

	same, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot), VersionMeta{})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, same.ID, "same content must not create a new version")

	v2, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot+"# v2\n"), VersionMeta{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ArtifactRef, v2.ArtifactRef)

	content, err := r.Content(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, hot, string(content))

	_, err = r.PublishVersion(ctx, tmpl.ID, nil, VersionMeta{})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
	_, err = r.PublishVersion(ctx, uuid.New(), []byte(hot), VersionMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t)
	tmpl := approvedTemplate(t, r, domain.VisibilityGlobal)

	_, err := r.Resolve(ctx, domain.TemplateRef{TemplateID: tmpl.ID})
	assert.ErrorIs(t, err, ErrNotFound, "template without versions")

	v1, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot), VersionMeta{})
	require.NoError(t, err)
	v2, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot+"# v2\n"), VersionMeta{})
	require.NoError(t, err)

	got, err := r.Resolve(ctx, domain.TemplateRef{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID, "latest version by default")

	got, err = r.Resolve(ctx, domain.TemplateRef{Name: tmpl.Name, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)

	_, err = r.Resolve(ctx, domain.TemplateRef{TemplateID: tmpl.ID, Version: 7})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(ctx, domain.TemplateRef{Name: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(ctx, domain.TemplateRef{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckDeployable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t)
	tmpl := approvedTemplate(t, r, domain.VisibilityPrivate)

	v, err := r.PublishVersion(ctx, tmpl.ID, []byte(hot), VersionMeta{})
	require.NoError(t, err)

	owner := domain.RequesterScope{UserID: tmpl.OwnerID, TenantID: tmpl.TenantID}
	stranger := domain.RequesterScope{UserID: uuid.New(), TenantID: tmpl.TenantID}

	require.NoError(t, r.CheckDeployable(ctx, v, owner))
	assert.ErrorIs(t, r.CheckDeployable(ctx, v, stranger), ErrNotApproved)

	ok, err := r.IsDeployable(ctx, v, stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Deprecate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, r.CheckDeployable(ctx, v, owner), ErrNotApproved)
}

func TestApprovalWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t)

	tmpl, err := r.CreateTemplate(ctx, NewTemplate{Name: "web-lab", OwnerID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalDraft, tmpl.Approval)
	assert.Equal(t, domain.VisibilityPrivate, tmpl.Visibility)

	_, err = r.Approve(ctx, tmpl.ID)
	assert.ErrorIs(t, err, ErrInvalidApprovalState, "draft cannot be approved directly")

	_, err = r.Submit(ctx, tmpl.ID)
	require.NoError(t, err)
	_, err = r.Reject(ctx, tmpl.ID)
	require.NoError(t, err)
	_, err = r.Submit(ctx, tmpl.ID)
	require.NoError(t, err, "rejected template can be resubmitted")
	approved, err := r.Approve(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, approved.Approval)

	updated, err := r.SetVisibility(ctx, tmpl.ID, domain.VisibilityTenantPublic)
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityTenantPublic, updated.Visibility)

	_, err = r.SetVisibility(ctx, tmpl.ID, "PUBLIC")
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplate_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.CreateTemplate(ctx, NewTemplate{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = r.CreateTemplate(ctx, NewTemplate{Name: "a", RepoURL: "not a repo"})
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = r.CreateTemplate(ctx, NewTemplate{Name: "dup"})
	require.NoError(t, err)
	_, err = r.CreateTemplate(ctx, NewTemplate{Name: "dup"})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestValidateRepoURL(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", "https://git.example.edu/labs/linux.git", "git@github.com:org/labs.git", "ssh://git@host/repo", "org/labs"} {
		assert.NoError(t, ValidateRepoURL(ok), ok)
	}
	for _, bad := range []string{"http://insecure/repo", "labs", "org/labs/extra", "ftp://x/y"} {
		assert.Error(t, ValidateRepoURL(bad), bad)
	}
}
