package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeployment_CloneIsDeep(t *testing.T) {
	course := uuid.New()
	pending := uuid.New()
	d := &Deployment{
		ID:               uuid.New(),
		CourseID:         &course,
		PendingVersionID: &pending,
		LastError:        &LastError{Kind: KindValidation, Message: "x"},
		Parameters:       map[string]string{"flavor": "m1.small"},
	}

	c := d.Clone()
	*c.CourseID = uuid.New()
	c.LastError.Message = "changed"
	c.Parameters["flavor"] = "m1.large"

	assert.Equal(t, course, *d.CourseID)
	assert.Equal(t, "x", d.LastError.Message)
	assert.Equal(t, "m1.small", d.Parameters["flavor"])
}

func TestDeployment_NeedsWork(t *testing.T) {
	pending := uuid.New()
	tests := []struct {
		name string
		d    Deployment
		want bool
	}{
		{"requested", Deployment{State: StateRequested}, true},
		{"active idle", Deployment{State: StateActive}, false},
		{"active cancel", Deployment{State: StateActive, CancelRequested: true}, true},
		{"active update", Deployment{State: StateActive, PendingVersionID: &pending}, true},
		{"failed idle", Deployment{State: StateFailed}, false},
		{"failed cancel", Deployment{State: StateFailed, CancelRequested: true}, true},
		{"deleted", Deployment{State: StateDeleted, CancelRequested: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.NeedsWork())
		})
	}
}

func TestDefaultDeploymentName(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")

	assert.Equal(t, "intro-to-linux-1b4e28ba", DefaultDeploymentName("Intro to Linux!", id))
	assert.Equal(t, "deployment-1b4e28ba", DefaultDeploymentName("###", id))

	long := DefaultDeploymentName(strings.Repeat("a", 100), id)
	assert.LessOrEqual(t, len(long), 49)
	assert.Equal(t, "dz-1b4e28ba-2fa1-11d2-883f-0016d3cca427", StackNameFor(id))
}

func TestProjectUsage_Fits(t *testing.T) {
	u := ProjectUsage{UsedVMs: 8, MaxVMs: 10, UsedVCPUs: 10, MaxVCPUs: 20, UsedRAMMB: 1024, MaxRAMMB: -1}

	assert.True(t, u.Fits(Footprint{Instances: 2, VCPUs: 10, RAMMB: 1 << 20}))
	assert.False(t, u.Fits(Footprint{Instances: 3}))
	assert.False(t, u.Fits(Footprint{VCPUs: 11}))
}
