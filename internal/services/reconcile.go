package services

import (
	"context"
	"fmt"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/pager"
	"github.com/rs/zerolog"
)

// SprintReconciler finds sprints whose recorded membership no longer matches
// the source. A sprint move does not always change an issue's update time,
// so the recency query alone misses it.
type SprintReconciler struct {
	source IssueSource
	sink   MirrorSink
	log    zerolog.Logger
}

func NewSprintReconciler(source IssueSource, sink MirrorSink, log zerolog.Logger) *SprintReconciler {
	return &SprintReconciler{source: source, sink: sink, log: log}
}

// SprintsNeedingUpdate re-reads every issue of the sampled sprints and
// returns the sprints involved in a membership change, each once, in the
// order first seen. Sampled issues the source no longer has are deleted from
// the mirror on the way.
func (r *SprintReconciler) SprintsNeedingUpdate(ctx context.Context) ([]domain.Sprint, error) {
	out, _, err := r.drift(ctx)
	return out, err
}

func (r *SprintReconciler) drift(ctx context.Context) ([]domain.Sprint, int, error) {
	samples, err := r.sink.GetSprintSamples(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("sprint samples: %w", err)
	}
	recorded := map[int64]*domain.Sprint{}
	var ids []int64
	for k := range samples {
		s := &samples[k]
		for _, i := range s.Issues {
			if _, ok := recorded[i.ID]; !ok {
				ids = append(ids, i.ID)
				recorded[i.ID] = s
			}
		}
	}
	r.log.Debug().Int("sprints", len(samples)).Int("issues", len(ids)).Msg("reconcile: sampled")
	if len(ids) == 0 {
		return nil, 0, nil
	}

	var out []domain.Sprint
	seen := map[string]bool{}
	add := func(s *domain.Sprint) {
		if s == nil || seen[s.ID] {
			return
		}
		seen[s.ID] = true
		out = append(out, *s)
	}

	p := NewDeleteAware(r.source.ByIDs(ids), ids, r.sink)
	_, err = pager.Drain(ctx, p, func(page []domain.Issue) error {
		for _, fresh := range page {
			was, ok := recorded[fresh.ID]
			if !ok {
				continue
			}
			switch {
			case fresh.Sprint == nil:
				add(was)
			case !fresh.Sprint.SameAs(was):
				add(fresh.Sprint)
				add(was)
			}
		}
		return nil
	})
	if err != nil {
		return nil, p.Deleted(), fmt.Errorf("sprint drift: %w", err)
	}
	if p.Deleted() > 0 {
		r.log.Info().Int("count", p.Deleted()).Msg("reconcile: deleted issues missing from source")
	}
	return out, p.Deleted(), nil
}
