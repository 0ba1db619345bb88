package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
)

// wireTime accepts epoch milliseconds, RFC 3339 strings and null.
type wireTime struct{ time.Time }

func (w *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		w.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			w.Time = time.Time{}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			w.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("mirror: bad time %q", s)
		}
		w.Time = t.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("mirror: bad time %s", b)
	}
	w.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (w wireTime) ptr() *time.Time {
	if w.IsZero() {
		return nil
	}
	t := w.Time
	return &t
}

type wireIssue struct {
	ID          int64    `json:"id"`
	Key         string   `json:"jiraKey"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	UpdatedDate wireTime `json:"updatedDate"`
}

type wireSprint struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       string      `json:"status"`
	StartDate    wireTime    `json:"startDate"`
	EndDate      wireTime    `json:"endDate"`
	CompleteDate wireTime    `json:"completeDate"`
	Issues       []wireIssue `json:"issues"`
}

func (s wireSprint) domain() domain.Sprint {
	out := domain.Sprint{
		ID:           s.ID,
		Name:         s.Name,
		Status:       domain.ParseSprintStatus(s.Status),
		StartDate:    s.StartDate.ptr(),
		EndDate:      s.EndDate.ptr(),
		CompleteDate: s.CompleteDate.ptr(),
	}
	for _, i := range s.Issues {
		out.Issues = append(out.Issues, domain.Issue{
			ID:          i.ID,
			Key:         i.Key,
			Name:        i.Name,
			Status:      i.Status,
			UpdatedDate: i.UpdatedDate.Time,
		})
	}
	return out
}
