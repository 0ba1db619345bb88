package services

import (
	"context"
	"testing"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteAwareDeletesExactlyTheMissingIDs(t *testing.T) {
	src := newFakeSource(2, issue(2, at(0), nil), issue(4, at(0), nil), issue(5, at(0), nil))
	requested := []int64{5, 1, 2, 3, 4, 3}
	d := &recordingDeleter{}
	p := NewDeleteAware(src.ByIDs(requested), requested, d)

	var returned []int64
	_, err := pager.Drain(context.Background(), p, func(page []domain.Issue) error {
		for _, i := range page {
			returned = append(returned, i.ID)
		}
		// nothing is deleted until the source is exhausted
		assert.Empty(t, d.ids)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 4, 5}, returned)
	assert.Equal(t, []int64{1, 3}, d.ids)
	assert.Equal(t, 2, p.Deleted())
}

func TestDeleteAwareNothingMissing(t *testing.T) {
	src := newFakeSource(10, issue(1, at(0), nil))
	d := &recordingDeleter{}
	p := NewDeleteAware(src.ByIDs([]int64{1}), []int64{1}, d)
	_, err := pager.Drain(context.Background(), p, func([]domain.Issue) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, d.ids)
}

func TestDeleteAwareDeleterFailureIsFatal(t *testing.T) {
	src := newFakeSource(10)
	d := &recordingDeleter{err: errBoom}
	p := NewDeleteAware(src.ByIDs([]int64{7}), []int64{7}, d)
	_, err := pager.Drain(context.Background(), p, func([]domain.Issue) error { return nil })
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, p.Deleted())
}

func TestDeleteAwarePropagatesInnerError(t *testing.T) {
	inner := pager.Func[domain.Issue](func(context.Context) ([]domain.Issue, error) { return nil, errBoom })
	d := &recordingDeleter{}
	p := NewDeleteAware(inner, []int64{1}, d)
	_, err := p.NextPage(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, d.ids)
}
