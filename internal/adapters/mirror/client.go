/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Client talks to the mirror API. It serves both as the issue sink and as
// the checkpoint store, keyed by the collector id.
type Client struct {
	baseURL     string
	collectorID string
	user        string
	pass        string
	http        *http.Client
	log         zerolog.Logger
	backoff     func() backoff.BackOff
}

// StatusError is returned for any non-2xx mirror response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mirror %s %s status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.MirrorURL, "/"),
		collectorID: cfg.CollectorID,
		user:        cfg.MirrorUsername,
		pass:        cfg.MirrorPassword,
		http:        &http.Client{Timeout: cfg.HTTPTimeout},
		log:         log,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(bo, 3)
		},
	}
}

func (c *Client) url(path string) string {
	q := url.Values{}
	q.Set("collectorId", c.collectorID)
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return errors.New("mirror: empty base url")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mirror: encode request: %w", err)
		}
		payload = b
	}
	u := c.url(path)
	op := func() error {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.user != "" {
			req.SetBasicAuth(c.user, c.pass)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			serr := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("mirror: retrying")
				return serr
			}
			return backoff.Permanent(serr)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("mirror: decode %s: %w", path, err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

func (c *Client) Upsert(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/api/issues", issues, nil); err != nil {
		return fmt.Errorf("mirror: upsert %d issues: %w", len(issues), err)
	}
	return nil
}

// DeleteIssue treats an issue the mirror no longer has as deleted.
func (c *Client) DeleteIssue(ctx context.Context, id int64) error {
	err := c.do(ctx, http.MethodDelete, "/api/issues/"+strconv.FormatInt(id, 10), nil, nil)
	if IsNotFound(err) {
		c.log.Warn().Int64("issue", id).Msg("mirror: issue already deleted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mirror: delete issue %d: %w", id, err)
	}
	return nil
}

func (c *Client) GetSprintSamples(ctx context.Context) ([]domain.Sprint, error) {
	var raw []wireSprint
	if err := c.do(ctx, http.MethodGet, "/api/sprints/changing-sample", nil, &raw); err != nil {
		return nil, fmt.Errorf("mirror: sprint samples: %w", err)
	}
	out := make([]domain.Sprint, 0, len(raw))
	for _, s := range raw {
		out = append(out, s.domain())
	}
	return out, nil
}

// GetSprintDetail returns nil without error when the mirror does not know
// the sprint.
func (c *Client) GetSprintDetail(ctx context.Context, id string) (*domain.Sprint, error) {
	var raw wireSprint
	err := c.do(ctx, http.MethodGet, "/api/sprints/"+url.PathEscape(id), nil, &raw)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mirror: sprint %s: %w", id, err)
	}
	s := raw.domain()
	return &s, nil
}

func (c *Client) checkpointPath() string {
	return "/api/collectors/" + url.PathEscape(c.collectorID)
}

// Get returns the zero time when the collector has never completed a page.
func (c *Client) Get(ctx context.Context) (time.Time, error) {
	var t wireTime
	err := c.do(ctx, http.MethodGet, c.checkpointPath(), nil, &t)
	if IsNotFound(err) {
		c.log.Info().Msg("mirror: no previous execution date; running from the beginning")
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mirror: read checkpoint: %w", err)
	}
	return t.Time, nil
}

// Set stores the checkpoint as epoch milliseconds.
func (c *Client) Set(ctx context.Context, t time.Time) error {
	if err := c.do(ctx, http.MethodPut, c.checkpointPath(), t.UnixMilli(), nil); err != nil {
		return fmt.Errorf("mirror: write checkpoint: %w", err)
	}
	return nil
}
