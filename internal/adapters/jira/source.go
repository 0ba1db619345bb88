package jira

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
	"github.com/rs/zerolog"
)

type Searcher interface {
	Search(ctx context.Context, jql string, startAt, max int) (*SearchResult, error)
}

// Source exposes Jira searches as issue pagers.
type Source struct {
	search   Searcher
	mapper   *Mapper
	types    []string
	pageSize int
	tz       *time.Location
	log      zerolog.Logger
}

func NewSource(search Searcher, mapper *Mapper, cfg config.Config, log zerolog.Logger) *Source {
	size := cfg.JiraPageSize
	if size <= 0 {
		size = 10
	}
	tz := cfg.JiraTimeZone
	if tz == nil {
		tz = time.UTC
	}
	return &Source{search: search, mapper: mapper, types: cfg.JiraIssueTypes, pageSize: size, tz: tz, log: log}
}

// RecentJQL builds the recency query. Results are ordered by update time
// ascending so a checkpoint taken after any page never skips unseen changes.
func (s *Source) RecentJQL(since time.Time) string {
	quoted := make([]string, 0, len(s.types))
	for _, t := range s.types {
		quoted = append(quoted, strconv.Quote(t))
	}
	clauses := []string{}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("updatedDate>='%s'", since.In(s.tz).Format("2006-01-02 15:04")))
	}
	if len(quoted) > 0 {
		clauses = append(clauses, "issueType in ("+strings.Join(quoted, ",")+")")
	}
	return strings.Join(clauses, " AND ") + " ORDER BY updated ASC"
}

func (s *Source) mapAll(raw []RawIssue) []domain.Issue {
	out := make([]domain.Issue, 0, len(raw))
	for _, r := range raw {
		iss, err := s.mapper.Map(r)
		if err != nil {
			s.log.Warn().Err(err).Msg("jira: skipping unmappable issue")
			continue
		}
		out = append(out, iss)
	}
	return out
}

func (s *Source) RecentIssues(since time.Time) pager.Pager[domain.Issue] {
	jql := s.RecentJQL(since)
	s.log.Info().Str("jql", jql).Msg("jira: recent issues query")
	return &recentPager{src: s, jql: jql}
}

type recentPager struct {
	src    *Source
	jql    string
	offset int
}

func (p *recentPager) NextPage(ctx context.Context) ([]domain.Issue, error) {
	for {
		res, err := p.src.search.Search(ctx, p.jql, p.offset, p.src.pageSize)
		if err != nil {
			return nil, fmt.Errorf("jira: recent issues at %d: %w", p.offset, err)
		}
		if len(res.Issues) == 0 {
			return nil, nil
		}
		p.offset += len(res.Issues)
		if page := p.src.mapAll(res.Issues); len(page) > 0 {
			return page, nil
		}
	}
}

func (s *Source) ByIDs(ids []int64) pager.Pager[domain.Issue] {
	seen := make(map[int64]struct{}, len(ids))
	uniq := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	return &idPager{src: s, ids: uniq}
}

// idPager walks the id list in fixed-size chunks. A chunk that yields
// nothing is skipped, so the empty page only ever means every chunk was
// queried.
type idPager struct {
	src  *Source
	ids  []int64
	next int
}

func (p *idPager) NextPage(ctx context.Context) ([]domain.Issue, error) {
	for p.next < len(p.ids) {
		end := min(p.next+p.src.pageSize, len(p.ids))
		chunk := p.ids[p.next:end]
		p.next = end
		page, err := p.src.fetchChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if len(page) > 0 {
			return page, nil
		}
	}
	return nil, nil
}

func idJQL(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "id IN (" + strings.Join(parts, ",") + ")"
}

// fetchChunk queries a chunk of ids. Jira rejects the whole query when any id
// no longer exists, so on that answer each id is retried alone and the ones
// that still fail count as not found.
func (s *Source) fetchChunk(ctx context.Context, ids []int64) ([]domain.Issue, error) {
	res, err := s.search.Search(ctx, idJQL(ids), 0, len(ids))
	if err == nil {
		return s.mapAll(res.Issues), nil
	}
	switch {
	case IsUnauthorized(err):
		s.log.Error().Err(err).Msg("jira: credentials rejected; check the user name and token")
		return nil, fmt.Errorf("jira: issues by id: %w", err)
	case IsItemNotFound(err):
		if len(ids) == 1 {
			s.log.Debug().Int64("issue", ids[0]).Msg("jira: issue not found")
			return nil, nil
		}
		s.log.Warn().Ints64("ids", ids).Msg("jira: some issues not found, querying one by one")
		var out []domain.Issue
		for _, id := range ids {
			one, err := s.fetchChunk(ctx, []int64{id})
			if err != nil {
				return nil, err
			}
			out = append(out, one...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("jira: issues by id: %w", err)
}
