package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
)

type IssueDeleter interface {
	DeleteIssue(ctx context.Context, id int64) error
}

// DeleteAwarePager wraps a by-id pager. When the inner pager is exhausted it
// deletes every requested id the source never returned, then reports the
// end of the walk. A deleter failure ends the walk with that error.
type DeleteAwarePager struct {
	inner   pager.Pager[domain.Issue]
	pending map[int64]struct{}
	deleter IssueDeleter
	deleted int
}

func NewDeleteAware(inner pager.Pager[domain.Issue], requested []int64, deleter IssueDeleter) *DeleteAwarePager {
	pending := make(map[int64]struct{}, len(requested))
	for _, id := range requested {
		pending[id] = struct{}{}
	}
	return &DeleteAwarePager{inner: inner, pending: pending, deleter: deleter}
}

func (p *DeleteAwarePager) NextPage(ctx context.Context) ([]domain.Issue, error) {
	page, err := p.inner.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	if len(page) > 0 {
		for _, i := range page {
			delete(p.pending, i.ID)
		}
		return page, nil
	}
	missing := make([]int64, 0, len(p.pending))
	for id := range p.pending {
		missing = append(missing, id)
	}
	slices.Sort(missing)
	for _, id := range missing {
		if err := p.deleter.DeleteIssue(ctx, id); err != nil {
			return nil, fmt.Errorf("delete issue %d: %w", id, err)
		}
		delete(p.pending, id)
		p.deleted++
	}
	return nil, nil
}

// Deleted is the number of issues removed so far.
func (p *DeleteAwarePager) Deleted() int { return p.deleted }
