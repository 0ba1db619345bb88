package jira

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/rs/zerolog"
)

// Mapper converts raw search results into mirror issues.
type Mapper struct {
	browseURL     string
	storyPoints   string
	sprintField   string
	keywordFields []string
	statusMap     map[string]string
	log           zerolog.Logger
}

func NewMapper(cfg config.Config, log zerolog.Logger) *Mapper {
	return &Mapper{
		browseURL:     strings.TrimRight(cfg.JiraBaseURL, "/") + "/browse/",
		storyPoints:   cfg.JiraStoryPoints,
		sprintField:   cfg.JiraSprintField,
		keywordFields: cfg.JiraKeywordFields,
		statusMap:     cfg.JiraStatusMap,
		log:           log,
	}
}

type namedField struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Name           string `json:"name"`
	StatusCategory *struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"statusCategory"`
}

func (m *Mapper) named(raw RawIssue, field string) *namedField {
	v, ok := raw.Fields[field]
	if !ok {
		return nil
	}
	var out namedField
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return &out
}

func (m *Mapper) str(raw RawIssue, field string) string {
	var s string
	if v, ok := raw.Fields[field]; ok {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

// Map converts one raw issue. Only a missing or non-numeric id is an error;
// unreadable optional fields are left empty.
func (m *Mapper) Map(raw RawIssue) (domain.Issue, error) {
	id, err := strconv.ParseInt(raw.ID, 10, 64)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("jira: issue %q has invalid id %q", raw.Key, raw.ID)
	}
	iss := domain.Issue{
		ID:   id,
		Key:  raw.Key,
		Name: m.str(raw, "summary"),
	}
	if raw.Key != "" {
		iss.URL = m.browseURL + raw.Key
	}
	if t := m.named(raw, "issuetype"); t != nil {
		iss.Type = t.Name
	}
	if st := m.named(raw, "status"); st != nil {
		iss.Status = m.mapStatus(st)
	}
	if p := m.named(raw, "priority"); p != nil {
		iss.Priority = p.Name
	}
	if p := m.named(raw, "project"); p != nil {
		pid, _ := strconv.ParseInt(p.ID, 10, 64)
		iss.Project = &domain.Project{ID: pid, Key: p.Key, Name: p.Name}
	}
	if u := parseJiraTime(m.str(raw, "updated")); u != nil {
		iss.UpdatedDate = *u
	}
	if v, ok := raw.Fields[m.storyPoints]; ok {
		var f *float64
		if err := json.Unmarshal(v, &f); err == nil {
			iss.Estimate = f
		}
	}
	if v, ok := raw.Fields[m.sprintField]; ok {
		iss.Sprint = PriorSprint(ParseSprintField(v))
	}
	iss.Keywords = m.keywords(raw, iss.Project)
	return iss, nil
}

func (m *Mapper) mapStatus(st *namedField) string {
	if v, ok := m.statusMap[strings.ToLower(st.Name)]; ok {
		return v
	}
	if st.StatusCategory != nil {
		if v, ok := m.statusMap[strings.ToLower(st.StatusCategory.Name)]; ok {
			return v
		}
		switch st.StatusCategory.Key {
		case "new":
			return "BACKLOG"
		case "indeterminate":
			return "IN_PROGRESS"
		case "done":
			return "DONE"
		}
	}
	m.log.Debug().Str("status", st.Name).Msg("jira: unmapped status")
	return ""
}

func (m *Mapper) keywords(raw RawIssue, p *domain.Project) []string {
	var out []string
	if p != nil {
		if p.Name != "" {
			out = append(out, p.Name)
		}
		if p.Key != "" {
			out = append(out, p.Key)
		}
	}
	for _, f := range m.keywordFields {
		v, ok := raw.Fields[f]
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			continue
		}
		out = appendOptionValues(out, decoded)
	}
	return out
}

// appendOptionValues flattens select and cascading-select values
// ({"value": "A", "child": {"value": "B"}}) and plain strings.
func appendOptionValues(out []string, v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			out = append(out, t)
		}
	case map[string]any:
		if s, ok := t["value"].(string); ok && s != "" {
			out = append(out, s)
		}
		if child, ok := t["child"]; ok {
			out = appendOptionValues(out, child)
		}
	case []any:
		for _, it := range t {
			out = appendOptionValues(out, it)
		}
	}
	return out
}
