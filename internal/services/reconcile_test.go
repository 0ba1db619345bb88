package services

import (
	"context"
	"testing"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sprintIDs(sprints []domain.Sprint) []string {
	out := make([]string, 0, len(sprints))
	for _, s := range sprints {
		out = append(out, s.ID)
	}
	return out
}

func TestSprintsNeedingUpdateMovedIssue(t *testing.T) {
	sink := newFakeSink()
	sink.seed(issue(1, at(0), sprint("A")), issue(2, at(0), sprint("A")))
	sink.sampleIDs = []string{"A"}
	// issue 1 moved to B without its update time changing
	src := newFakeSource(10, issue(1, at(0), sprint("B")), issue(2, at(0), sprint("A")))

	got, err := NewSprintReconciler(src, sink, zerolog.Nop()).SprintsNeedingUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, sprintIDs(got))
	assert.Empty(t, sink.deletes)
}

func TestSprintsNeedingUpdateRemovedFromSprint(t *testing.T) {
	sink := newFakeSink()
	sink.seed(issue(1, at(0), sprint("A")))
	sink.sampleIDs = []string{"A"}
	src := newFakeSource(10, issue(1, at(0), nil))

	got, err := NewSprintReconciler(src, sink, zerolog.Nop()).SprintsNeedingUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sprintIDs(got))
}

func TestSprintsNeedingUpdateNoDrift(t *testing.T) {
	sink := newFakeSink()
	sink.seed(issue(1, at(0), sprint("A")), issue(2, at(0), sprint("B")))
	sink.sampleIDs = []string{"A", "B"}
	// metadata differences alone are not drift
	renamed := &domain.Sprint{ID: "A", Name: "renamed", Status: domain.SprintClosed}
	src := newFakeSource(10, issue(1, at(5), renamed), issue(2, at(0), sprint("B")))

	got, err := NewSprintReconciler(src, sink, zerolog.Nop()).SprintsNeedingUpdate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSprintsNeedingUpdateDeletesVanishedIssues(t *testing.T) {
	sink := newFakeSink()
	sink.seed(issue(1, at(0), sprint("A")), issue(2, at(0), sprint("A")), issue(3, at(0), sprint("C")))
	sink.sampleIDs = []string{"A", "C"}
	src := newFakeSource(1, issue(2, at(0), sprint("A")))

	r := NewSprintReconciler(src, sink, zerolog.Nop())
	got, deleted, err := r.drift(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []int64{1, 3}, sink.deletes)
	assert.Equal(t, []int64{2}, sink.ids())
}

func TestSprintsNeedingUpdateDeduplicates(t *testing.T) {
	sink := newFakeSink()
	sink.seed(issue(1, at(0), sprint("A")), issue(2, at(0), sprint("A")), issue(3, at(0), sprint("B")))
	sink.sampleIDs = []string{"A", "B"}
	src := newFakeSource(1,
		issue(1, at(0), sprint("C")),
		issue(2, at(0), sprint("C")),
		issue(3, at(0), sprint("A")),
	)

	got, err := NewSprintReconciler(src, sink, zerolog.Nop()).SprintsNeedingUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, sprintIDs(got))
	assert.Equal(t, [][]int64{{1, 2, 3}}, src.byIDs)
}

func TestSprintsNeedingUpdateEmptySample(t *testing.T) {
	sink := newFakeSink()
	src := newFakeSource(10)
	got, err := NewSprintReconciler(src, sink, zerolog.Nop()).SprintsNeedingUpdate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.byIDs)
}
