package jira

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
)

const greenhopperSprint = "com.atlassian.greenhopper.service.sprint.Sprint"

var sprintAttrRe = regexp.MustCompile(`([^=\[,]*)=([^,\]]*)`)

var jiraTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

func parseJiraTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "<null>" {
		return nil
	}
	for _, l := range jiraTimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

// ParseSprint decodes the legacy GreenHopper descriptor
// ("...Sprint@1a2b[id=1,state=ACTIVE,name=...]"). It returns nil for
// anything that is not a sprint descriptor or has no id.
func ParseSprint(descriptor string) *domain.Sprint {
	if !strings.HasPrefix(descriptor, greenhopperSprint) {
		return nil
	}
	attrs := map[string]string{}
	for _, m := range sprintAttrRe.FindAllStringSubmatch(descriptor, -1) {
		v := m[2]
		if v == "<null>" {
			v = ""
		}
		attrs[m[1]] = v
	}
	if attrs["id"] == "" {
		return nil
	}
	return &domain.Sprint{
		ID:           attrs["id"],
		Name:         attrs["name"],
		Status:       domain.ParseSprintStatus(attrs["state"]),
		StartDate:    parseJiraTime(attrs["startDate"]),
		EndDate:      parseJiraTime(attrs["endDate"]),
		CompleteDate: parseJiraTime(attrs["completeDate"]),
	}
}

// agile API representation of a sprint field entry
type sprintObject struct {
	ID           json.Number `json:"id"`
	Name         string      `json:"name"`
	State        string      `json:"state"`
	StartDate    string      `json:"startDate"`
	EndDate      string      `json:"endDate"`
	CompleteDate string      `json:"completeDate"`
}

func parseSprintEntry(raw json.RawMessage) *domain.Sprint {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return ParseSprint(s)
	case '{':
		var o sprintObject
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&o); err != nil || o.ID.String() == "" {
			return nil
		}
		return &domain.Sprint{
			ID:           o.ID.String(),
			Name:         o.Name,
			Status:       domain.ParseSprintStatus(o.State),
			StartDate:    parseJiraTime(o.StartDate),
			EndDate:      parseJiraTime(o.EndDate),
			CompleteDate: parseJiraTime(o.CompleteDate),
		}
	}
	return nil
}

// ParseSprintField decodes the sprint custom field, which Jira returns as an
// array of descriptors or objects. Entries that cannot be decoded are dropped.
func ParseSprintField(raw json.RawMessage) []*domain.Sprint {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '[' {
		if s := parseSprintEntry(raw); s != nil {
			return []*domain.Sprint{s}
		}
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	out := make([]*domain.Sprint, 0, len(entries))
	for _, e := range entries {
		if s := parseSprintEntry(e); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func statusRank(s domain.SprintStatus) int {
	switch s {
	case domain.SprintActive:
		return 0
	case domain.SprintFuture:
		return 1
	}
	return 2
}

// PriorSprint picks the sprint an issue currently belongs to when several
// are attached: an active sprint wins, then a future one, then the closed
// sprint with the latest end date.
func PriorSprint(sprints []*domain.Sprint) *domain.Sprint {
	if len(sprints) == 0 {
		return nil
	}
	sorted := append([]*domain.Sprint(nil), sprints...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		switch {
		case a.EndDate == nil:
			return false
		case b.EndDate == nil:
			return true
		}
		return a.EndDate.After(*b.EndDate)
	})
	return sorted[0]
}
