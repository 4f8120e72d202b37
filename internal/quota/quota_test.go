package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/memstore"
)

type countingSource struct {
	usage domain.ProjectUsage
	err   error
	calls int
}

func (s *countingSource) ProjectUsage(_ context.Context, projectID string) (*domain.ProjectUsage, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	u := s.usage
	u.ProjectID = projectID
	return &u, nil
}

func newCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client, time.Minute)
}

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	db := memstore.MustNew()
	c := NewChecker(db.Projects, &countingSource{}, nil, nil)

	instructor := domain.RequesterScope{UserID: uuid.New(), TenantID: uuid.New()}
	course := uuid.New()
	require.NoError(t, db.Projects.PutMapping(ctx, &domain.ProjectMapping{ProjectID: "course-p", CourseID: &course, OwnerID: instructor.UserID}))
	require.NoError(t, db.Projects.PutMapping(ctx, &domain.ProjectMapping{ProjectID: "personal-p", OwnerID: instructor.UserID}))

	m, err := c.ResolveProject(ctx, instructor, domain.Target{CourseID: &course})
	require.NoError(t, err)
	assert.Equal(t, "course-p", m.ProjectID)

	m, err = c.ResolveProject(ctx, instructor, domain.Target{})
	require.NoError(t, err)
	assert.Equal(t, "personal-p", m.ProjectID)

	other := domain.RequesterScope{UserID: uuid.New()}
	_, err = c.ResolveProject(ctx, other, domain.Target{CourseID: &course})
	assert.ErrorIs(t, err, domain.ErrValidation, "not the course instructor")

	_, err = c.ResolveProject(ctx, other, domain.Target{})
	assert.ErrorIs(t, err, domain.ErrValidation, "no personal project")

	unknown := uuid.New()
	_, err = c.ResolveProject(ctx, instructor, domain.Target{CourseID: &unknown})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{usage: domain.ProjectUsage{UsedVMs: 3, MaxVMs: 4, UsedVCPUs: 6, MaxVCPUs: 8, MaxRAMMB: -1}}
	c := NewChecker(memstore.MustNew().Projects, src, nil, nil)

	assert.NoError(t, c.Check(ctx, "p1", domain.Footprint{Instances: 1, VCPUs: 2, RAMMB: 100000}))

	err := c.Check(ctx, "p1", domain.Footprint{Instances: 2})
	assert.ErrorIs(t, err, domain.ErrValidation)

	src.err = domain.NewTransientError("openstack unavailable", errors.New("502"))
	err = c.Check(ctx, "p1", domain.Footprint{})
	assert.ErrorIs(t, err, domain.ErrTransientInfra)
}

func TestCheck_UsesCache(t *testing.T) {
	ctx := context.Background()
	mr, cache := newCache(t)
	src := &countingSource{usage: domain.ProjectUsage{UsedVMs: 1, MaxVMs: 10, MaxVCPUs: -1, MaxRAMMB: -1}}
	c := NewChecker(memstore.MustNew().Projects, src, cache, nil)

	for range 3 {
		require.NoError(t, c.Check(ctx, "p1", domain.Footprint{Instances: 1}))
	}
	assert.Equal(t, 1, src.calls)
	assert.True(t, mr.Exists("openstack:usage:p1"))
	assert.Equal(t, time.Minute, mr.TTL("openstack:usage:p1"))

	c.Invalidate(ctx, "p1")
	assert.False(t, mr.Exists("openstack:usage:p1"))
	require.NoError(t, c.Check(ctx, "p1", domain.Footprint{Instances: 1}))
	assert.Equal(t, 2, src.calls)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, c.Check(ctx, "p1", domain.Footprint{Instances: 1}))
	assert.Equal(t, 3, src.calls, "expired entry is refetched")
}

func TestCheck_CacheOutageFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	mr, cache := newCache(t)
	src := &countingSource{usage: domain.ProjectUsage{MaxVMs: -1, MaxVCPUs: -1, MaxRAMMB: -1}}
	c := NewChecker(memstore.MustNew().Projects, src, cache, nil)

	mr.Close()
	assert.NoError(t, c.Check(ctx, "p1", domain.Footprint{Instances: 1}))
	assert.Equal(t, 1, src.calls)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, cache := newCache(t)

	_, err := cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, &domain.ProjectUsage{ProjectID: "p1", UsedVMs: 2, MaxVMs: 5}))
	u, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.UsedVMs)
	assert.False(t, u.FetchedAt.IsZero())
}
