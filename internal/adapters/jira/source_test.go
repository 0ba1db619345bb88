package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearch answers JQL queries from a map of known ids and records every
// query it receives.
type fakeSearch struct {
	known   map[string]bool
	queries []string
	errFor  map[string]error
	pages   [][]RawIssue
}

func (f *fakeSearch) Search(_ context.Context, jql string, startAt, max int) (*SearchResult, error) {
	f.queries = append(f.queries, fmt.Sprintf("%s@%d", jql, startAt))
	if err, ok := f.errFor[jql]; ok {
		return nil, err
	}
	if f.pages != nil {
		n := 0
		for _, p := range f.pages {
			if n == startAt {
				return &SearchResult{StartAt: startAt, Issues: p}, nil
			}
			n += len(p)
		}
		return &SearchResult{StartAt: startAt}, nil
	}
	ids := strings.TrimSuffix(strings.TrimPrefix(jql, "id IN ("), ")")
	var out []RawIssue
	for _, id := range strings.Split(ids, ",") {
		if f.known[id] {
			out = append(out, RawIssue{ID: id, Key: "K-" + id})
		} else {
			return nil, &StatusError{Status: http.StatusBadRequest}
		}
	}
	return &SearchResult{Issues: out}, nil
}

func newTestSource(s Searcher, pageSize int) *Source {
	cfg := config.Config{
		JiraBaseURL:    "https://jira.example.com",
		JiraIssueTypes: []string{"Story", "Bug"},
		JiraPageSize:   pageSize,
		JiraTimeZone:   time.FixedZone("CET", 3600),
	}
	return NewSource(s, NewMapper(cfg, zerolog.Nop()), cfg, zerolog.Nop())
}

func drainIDs(t *testing.T, p pager.Pager[domain.Issue]) ([]int64, int, error) {
	t.Helper()
	var ids []int64
	pages, err := pager.Drain(context.Background(), p, func(page []domain.Issue) error {
		for _, i := range page {
			ids = append(ids, i.ID)
		}
		return nil
	})
	return ids, pages, err
}

func TestRecentJQL(t *testing.T) {
	s := newTestSource(&fakeSearch{}, 10)
	since := time.Date(2017, 2, 22, 6, 30, 0, 0, time.UTC)
	assert.Equal(t,
		`updatedDate>='2017-02-22 07:30' AND issueType in ("Story","Bug") ORDER BY updated ASC`,
		s.RecentJQL(since))
	assert.Equal(t, `issueType in ("Story","Bug") ORDER BY updated ASC`, s.RecentJQL(time.Time{}))
}

func TestRecentIssuesPagesByOffset(t *testing.T) {
	fs := &fakeSearch{pages: [][]RawIssue{
		{{ID: "1"}, {ID: "2"}},
		{{ID: "bad"}},
		{{ID: "3"}},
	}}
	s := newTestSource(fs, 2)
	ids, pages, err := drainIDs(t, s.RecentIssues(time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, 2, pages)
	require.Len(t, fs.queries, 4)
	assert.True(t, strings.HasSuffix(fs.queries[1], "@2"))
	assert.True(t, strings.HasSuffix(fs.queries[2], "@3"))
}

func TestByIDsFallsBackToSingleQueries(t *testing.T) {
	fs := &fakeSearch{known: map[string]bool{"1": true, "2": true, "3": true, "4": true, "6": true}}
	s := newTestSource(fs, 2)
	ids, _, err := drainIDs(t, s.ByIDs([]int64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 6}, ids)
	assert.Contains(t, fs.queries, "id IN (5)@0")
	assert.Contains(t, fs.queries, "id IN (6)@0")
}

func TestByIDsSkipsEmptyChunks(t *testing.T) {
	fs := &fakeSearch{known: map[string]bool{"5": true}}
	s := newTestSource(fs, 2)
	ids, pages, err := drainIDs(t, s.ByIDs([]int64{1, 2, 3, 4, 5}))
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)
	assert.Equal(t, 1, pages)
}

func TestByIDsDeduplicates(t *testing.T) {
	fs := &fakeSearch{known: map[string]bool{"1": true, "2": true}}
	s := newTestSource(fs, 10)
	ids, _, err := drainIDs(t, s.ByIDs([]int64{1, 2, 1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []string{"id IN (1,2)@0"}, fs.queries)
}

func TestByIDsEmpty(t *testing.T) {
	fs := &fakeSearch{}
	ids, pages, err := drainIDs(t, newTestSource(fs, 10).ByIDs(nil))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, pages)
	assert.Empty(t, fs.queries)
}

func TestByIDsUnauthorizedIsFatal(t *testing.T) {
	fs := &fakeSearch{errFor: map[string]error{"id IN (1)": &StatusError{Status: http.StatusUnauthorized}}}
	_, _, err := drainIDs(t, newTestSource(fs, 10).ByIDs([]int64{1}))
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestByIDsOtherErrorsAreFatal(t *testing.T) {
	fs := &fakeSearch{errFor: map[string]error{"id IN (1)": &StatusError{Status: http.StatusInternalServerError}}}
	_, _, err := drainIDs(t, newTestSource(fs, 10).ByIDs([]int64{1}))
	require.Error(t, err)
	assert.False(t, IsItemNotFound(err))
}
