package openstack

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/domain"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status     string
		wantAction string
		wantState  StackState
	}{
		{"CREATE_IN_PROGRESS", "CREATE", StackPending},
		{"CREATE_COMPLETE", "CREATE", StackReady},
		{"CREATE_FAILED", "CREATE", StackError},
		{"UPDATE_COMPLETE", "UPDATE", StackReady},
		{"UPDATE_FAILED", "UPDATE", StackError},
		{"DELETE_IN_PROGRESS", "DELETE", StackPending},
		{"DELETE_COMPLETE", "DELETE", StackGone},
		{"ROLLBACK_COMPLETE", "ROLLBACK", StackError},
		{"ROLLBACK_IN_PROGRESS", "ROLLBACK", StackPending},
		{"INIT", "INIT", StackPending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			action, state := parseStatus(tt.status)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantState, state)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", HTTPError(http.StatusUnauthorized, ""), domain.ErrTransientInfra},
		{"forbidden", HTTPError(http.StatusForbidden, "policy"), domain.ErrTransientInfra},
		{"forbidden quota", HTTPError(http.StatusForbidden, "Quota exceeded for instances"), domain.ErrFatalInfra},
		{"bad request", HTTPError(http.StatusBadRequest, "invalid template"), domain.ErrFatalInfra},
		{"conflict", HTTPError(http.StatusConflict, ""), domain.ErrFatalInfra},
		{"too large", HTTPError(http.StatusRequestEntityTooLarge, ""), domain.ErrFatalInfra},
		{"rate limited", HTTPError(http.StatusTooManyRequests, ""), domain.ErrTransientInfra},
		{"request timeout", HTTPError(http.StatusRequestTimeout, ""), domain.ErrTransientInfra},
		{"server error", HTTPError(http.StatusServiceUnavailable, ""), domain.ErrTransientInfra},
		{"network", timeoutErr{}, domain.ErrTransientInfra},
		{"deadline", context.DeadlineExceeded, domain.ErrTransientInfra},
		{"unknown", errors.New("template parse error"), domain.ErrFatalInfra},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify("create_stack", tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassify_MessageHasNoBody(t *testing.T) {
	t.Parallel()

	err := classify("create_stack", HTTPError(http.StatusBadRequest, "password=hunter2"))
	le := domain.Redact(err)
	require.NotNil(t, le)
	assert.NotContains(t, le.Message, "hunter2")
	assert.Contains(t, le.Message, "400")
}

func TestClient_StackLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := NewFake()
	fake.PollsToComplete = 1
	fake.Outputs = map[string]any{"instances": []any{}}
	c := NewClient(fake, BreakerConfig{}, nil)

	spec := StackSpec{ProjectID: "p1", Name: "dz-1", Template: []byte("heat_template_version: 2021-04-16")}
	id, err := c.CreateStack(ctx, spec)
	require.NoError(t, err)

	found, err := c.FindStack(ctx, "p1", "dz-1")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	ref := StackRef{ProjectID: "p1", Name: "dz-1", ID: id}
	st, err := c.PollStack(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StackPending, st.State)

	st, err = c.PollStack(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StackReady, st.State)
	assert.Equal(t, "CREATE", st.Action)

	require.NoError(t, c.UpdateStack(ctx, ref, spec))
	_, _ = c.PollStack(ctx, ref)
	st, err = c.PollStack(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StackReady, st.State)
	assert.Equal(t, "UPDATE", st.Action)

	require.NoError(t, c.DeleteStack(ctx, ref))
	_, _ = c.PollStack(ctx, ref)
	st, err = c.PollStack(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StackGone, st.State)

	assert.NoError(t, c.DeleteStack(ctx, ref), "deleting a missing stack is not an error")

	found, err = c.FindStack(ctx, "p1", "dz-1")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFake_MaxInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := NewFake()
	fake.Latency = 20 * time.Millisecond

	id, err := fake.CreateStack(ctx, StackSpec{ProjectID: "p1", Name: "dz-1"})
	require.NoError(t, err)
	ref := StackRef{ProjectID: "p1", Name: "dz-1", ID: id}

	_, err = fake.GetStack(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.MaxInFlight("dz-1"), "sequential calls never overlap")

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = fake.GetStack(ctx, ref)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, fake.MaxInFlight("dz-1"))
	assert.Zero(t, fake.MaxInFlight("dz-2"))
}

func TestClient_CreateFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := NewFake()
	fake.FailCreate = true
	c := NewClient(fake, BreakerConfig{}, nil)

	id, err := c.CreateStack(ctx, StackSpec{ProjectID: "p1", Name: "dz-2"})
	require.NoError(t, err)

	st, err := c.PollStack(ctx, StackRef{ProjectID: "p1", Name: "dz-2", ID: id})
	require.NoError(t, err)
	assert.Equal(t, StackError, st.State)
	assert.NotEmpty(t, st.Reason)
}

func TestClient_BreakerOpensOnTransientErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := NewFake()
	c := NewClient(fake, BreakerConfig{Failures: 2, Timeout: time.Hour}, nil)

	fake.FailNext("limits", HTTPError(http.StatusBadRequest, ""), HTTPError(http.StatusBadRequest, ""))
	for range 2 {
		_, err := c.ProjectUsage(ctx, "p1")
		assert.ErrorIs(t, err, domain.ErrFatalInfra)
	}
	assert.False(t, c.IsOpen(), "fatal errors do not trip the breaker")

	fake.FailNext("limits", HTTPError(http.StatusBadGateway, ""), HTTPError(http.StatusBadGateway, ""))
	for range 2 {
		_, err := c.ProjectUsage(ctx, "p1")
		assert.ErrorIs(t, err, domain.ErrTransientInfra)
	}
	assert.True(t, c.IsOpen())

	calls := fake.Calls("limits")
	_, err := c.ProjectUsage(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrTransientInfra)
	assert.Equal(t, calls, fake.Calls("limits"), "open breaker does not reach the backend")
}

func TestClient_ProjectUsage(t *testing.T) {
	t.Parallel()
	fake := NewFake()
	fake.SetUsage(domain.ProjectUsage{ProjectID: "p1", UsedVMs: 2, MaxVMs: 10, MaxVCPUs: -1, MaxRAMMB: -1})
	c := NewClient(fake, BreakerConfig{}, nil)

	u, err := c.ProjectUsage(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.UsedVMs)
	assert.True(t, u.Fits(domain.Footprint{Instances: 8}))
	assert.False(t, u.Fits(domain.Footprint{Instances: 9}))
}

func TestParseInstances(t *testing.T) {
	t.Parallel()

	outputs := map[string]any{
		"instances": []any{
			map[string]any{
				"name":      "vm-1",
				"server_id": "srv-1",
				"address":   "10.0.0.5",
				"access": []any{
					map[string]any{"protocol": "ssh", "port": 22, "username": "student", "secret": "s3cret"},
					map[string]any{"protocol": "web_url", "url": "https://lab.example.edu"},
				},
			},
		},
	}
	got, err := ParseInstances(outputs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ServerID)
	require.Len(t, got[0].Access, 2)
	assert.Equal(t, domain.AccessSSH, got[0].Access[0].Protocol)
	assert.Equal(t, 22, got[0].Access[0].Port)

	fromString, err := ParseInstances(map[string]any{"instances": `[{"name":"vm","server_id":"srv-2"}]`})
	require.NoError(t, err)
	require.Len(t, fromString, 1)

	none, err := ParseInstances(nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ParseInstances(map[string]any{"instances": `[{"name":"vm","server_id":"s","access":[{"protocol":"telnet"}]}]`})
	assert.ErrorIs(t, err, domain.ErrFatalInfra)

	_, err = ParseInstances(map[string]any{"instances": "not json"})
	assert.ErrorIs(t, err, domain.ErrFatalInfra)
}
