package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSprintSameAsComparesIdentityOnly(t *testing.T) {
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	a := &Sprint{ID: "7", Name: "Sprint 7", Status: SprintActive}
	b := &Sprint{ID: "7", Name: "Sprint 7 (renamed)", Status: SprintClosed, EndDate: &end}
	c := &Sprint{ID: "8", Name: "Sprint 7"}

	assert.True(t, a.SameAs(b))
	assert.False(t, a.SameAs(c))
	assert.False(t, a.SameAs(nil))
	var none *Sprint
	assert.True(t, none.SameAs(nil))
}

func TestMaxUpdated(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, d2, MaxUpdated([]Issue{{ID: 1, UpdatedDate: d2}, {ID: 2, UpdatedDate: d1}}))
	assert.True(t, MaxUpdated(nil).IsZero())
}

func TestParseSprintStatus(t *testing.T) {
	assert.Equal(t, SprintActive, ParseSprintStatus("active"))
	assert.Equal(t, SprintClosed, ParseSprintStatus(" CLOSED "))
	assert.Equal(t, SprintStatus(""), ParseSprintStatus("<null>"))
}
