package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
)

var t0 = time.Date(2017, 3, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

// fakeSource holds the source's current view of every issue.
type fakeSource struct {
	mu       sync.Mutex
	issues   map[int64]domain.Issue
	pageSize int
	since    []time.Time
	byIDs    [][]int64
}

func newFakeSource(pageSize int, issues ...domain.Issue) *fakeSource {
	s := &fakeSource{issues: map[int64]domain.Issue{}, pageSize: pageSize}
	for _, i := range issues {
		s.issues[i.ID] = i
	}
	return s
}

func (s *fakeSource) put(i domain.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[i.ID] = i
}

func (s *fakeSource) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.issues, id)
}

func (s *fakeSource) RecentIssues(since time.Time) pager.Pager[domain.Issue] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	var out []domain.Issue
	for _, i := range s.issues {
		if !i.UpdatedDate.Before(since) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].UpdatedDate.Equal(out[b].UpdatedDate) {
			return out[a].ID < out[b].ID
		}
		return out[a].UpdatedDate.Before(out[b].UpdatedDate)
	})
	return pager.Slice(out, s.pageSize)
}

func (s *fakeSource) ByIDs(ids []int64) pager.Pager[domain.Issue] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIDs = append(s.byIDs, slices.Clone(ids))
	var out []domain.Issue
	for _, id := range ids {
		if i, ok := s.issues[id]; ok {
			out = append(out, i)
		}
	}
	return pager.Slice(out, s.pageSize)
}

// fakeSink is an in-memory mirror. Sprint membership is derived from the
// stored issues, as the real mirror does.
type fakeSink struct {
	mu        sync.Mutex
	issues    map[int64]domain.Issue
	sprints   map[string]domain.Sprint
	sampleIDs []string
	upserts   [][]domain.Issue
	deletes   []int64
	upsertErr func(call int) error
	deleteErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{issues: map[int64]domain.Issue{}, sprints: map[string]domain.Sprint{}}
}

// seed records issues as already mirrored, attached to their sprints.
func (s *fakeSink) seed(issues ...domain.Issue) {
	for _, i := range issues {
		s.issues[i.ID] = i
		if i.Sprint != nil {
			s.sprints[i.Sprint.ID] = domain.Sprint{ID: i.Sprint.ID, Name: i.Sprint.Name, Status: i.Sprint.Status}
		}
	}
}

func (s *fakeSink) Upsert(_ context.Context, issues []domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		if err := s.upsertErr(len(s.upserts)); err != nil {
			return err
		}
	}
	s.upserts = append(s.upserts, slices.Clone(issues))
	for _, i := range issues {
		s.issues[i.ID] = i
		if i.Sprint != nil {
			s.sprints[i.Sprint.ID] = domain.Sprint{ID: i.Sprint.ID, Name: i.Sprint.Name, Status: i.Sprint.Status}
		}
	}
	return nil
}

func (s *fakeSink) DeleteIssue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes = append(s.deletes, id)
	delete(s.issues, id)
	return nil
}

func (s *fakeSink) sprintWithMembers(id string) (domain.Sprint, bool) {
	sp, ok := s.sprints[id]
	if !ok {
		return sp, false
	}
	var ids []int64
	for iid, i := range s.issues {
		if i.Sprint != nil && i.Sprint.ID == id {
			ids = append(ids, iid)
		}
	}
	slices.Sort(ids)
	sp.Issues = nil
	for _, iid := range ids {
		sp.Issues = append(sp.Issues, domain.Issue{ID: iid})
	}
	return sp, true
}

func (s *fakeSink) GetSprintSamples(context.Context) ([]domain.Sprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sprint
	for _, id := range s.sampleIDs {
		if sp, ok := s.sprintWithMembers(id); ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *fakeSink) GetSprintDetail(_ context.Context, id string) (*domain.Sprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.sprintWithMembers(id)
	if !ok {
		return nil, nil
	}
	return &sp, nil
}

func (s *fakeSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.issues {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type fakeCheckpoint struct {
	mu   sync.Mutex
	t    time.Time
	sets []time.Time
}

func (c *fakeCheckpoint) Get(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t, nil
}

func (c *fakeCheckpoint) Set(_ context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, t)
	c.t = t
	return nil
}

type recordingDeleter struct {
	ids []int64
	err error
}

func (d *recordingDeleter) DeleteIssue(_ context.Context, id int64) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

var errBoom = errors.New("boom")

func issue(id int64, updated time.Time, sprint *domain.Sprint) domain.Issue {
	return domain.Issue{ID: id, Name: "issue", UpdatedDate: updated, Sprint: sprint}
}

func sprint(id string) *domain.Sprint {
	return &domain.Sprint{ID: id, Name: "Sprint " + id, Status: domain.SprintActive}
}
