package domain

import (
	"strings"
	"time"
)

type SprintStatus string

const (
	SprintFuture SprintStatus = "FUTURE"
	SprintActive SprintStatus = "ACTIVE"
	SprintClosed SprintStatus = "CLOSED"
)

// ParseSprintStatus is case-insensitive; unknown values yield "".
func ParseSprintStatus(s string) SprintStatus {
	switch SprintStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case SprintFuture:
		return SprintFuture
	case SprintActive:
		return SprintActive
	case SprintClosed:
		return SprintClosed
	}
	return ""
}

type Project struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Sprint struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Status       SprintStatus `json:"status,omitempty"`
	StartDate    *time.Time   `json:"startDate,omitempty"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
	CompleteDate *time.Time   `json:"completeDate,omitempty"`
	Issues       []Issue      `json:"issues,omitempty"`
}

// SameAs reports whether both sprints have the same identity. Metadata
// (dates, name, status) is ignored.
func (s *Sprint) SameAs(o *Sprint) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	return s.ID == o.ID
}

// IssueIDs lists the ids of the recorded members, in order.
func (s *Sprint) IssueIDs() []int64 {
	if s == nil {
		return nil
	}
	ids := make([]int64, 0, len(s.Issues))
	for _, i := range s.Issues {
		ids = append(ids, i.ID)
	}
	return ids
}

type Issue struct {
	ID          int64     `json:"id"`
	Key         string    `json:"jiraKey,omitempty"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Status      string    `json:"status,omitempty"`
	Estimate    *float64  `json:"estimate,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Sprint      *Sprint   `json:"sprint,omitempty"`
	Project     *Project  `json:"project,omitempty"`
	UpdatedDate time.Time `json:"updatedDate"`
	Keywords    []string  `json:"keywords,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// MaxUpdated returns the latest UpdatedDate in the batch, zero when empty.
func MaxUpdated(issues []Issue) time.Time {
	var max time.Time
	for _, i := range issues {
		if i.UpdatedDate.After(max) {
			max = i.UpdatedDate
		}
	}
	return max
}
