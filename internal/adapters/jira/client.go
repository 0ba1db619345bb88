/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	token   string
	basic   string
	user    string
	pass    string
	http    *http.Client
	log     zerolog.Logger
	apiVer  string
	backoff func() backoff.BackOff
}

// SearchResult is one page of a JQL search. Fields are kept raw because
// custom field ids differ per Jira instance.
type SearchResult struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []RawIssue `json:"issues"`
}

type RawIssue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// StatusError is returned for any non-2xx Jira response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body)
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsUnauthorized reports credential or permission failures.
func IsUnauthorized(err error) bool {
	s := statusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsItemNotFound reports the 400/404 Jira answers when a JQL query names an
// issue id that no longer exists.
func IsItemNotFound(err error) bool {
	s := statusOf(err)
	return s == http.StatusBadRequest || s == http.StatusNotFound
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.JiraBaseURL,
		token:   cfg.JiraPAT,
		basic:   getenvBasic(),
		user:    cfg.JiraUsername,
		pass:    cfg.JiraPassword,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
		apiVer:  cfg.JiraAPIVersion,
		backoff: defaultBackoff,
	}
}

func defaultBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(bo, 2)
}

// getenvBasic reads JIRA_BASIC_AUTH from environment if present (format: user:pass base64), optional
func getenvBasic() string {
	return strings.TrimSpace(os.Getenv("JIRA_BASIC_AUTH"))
}

func (c *Client) apiURL(path string, q url.Values) string {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "" && c.pass != "":
		req.SetBasicAuth(c.user, c.pass)
	case c.basic != "":
		req.Header.Set("Authorization", "Basic "+c.basic)
	}
}

// doJSON sends the request and decodes the response into out. 429 and 5xx
// responses and transport errors are retried; anything else is returned as
// is.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty baseURL")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
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
		c.authorize(req)
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
			serr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			// retry on 429/5xx
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.log.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("jira: retrying")
				return serr
			}
			return backoff.Permanent(serr)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("jira: decode response: %w", err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

// Search runs a JQL query and returns one page of raw issues.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (*SearchResult, error) {
	if jql == "" {
		return nil, errors.New("jira: empty jql")
	}
	var out SearchResult
	if c.apiVer == "2" {
		q := url.Values{}
		q.Set("jql", jql)
		if startAt > 0 {
			q.Set("startAt", fmt.Sprint(startAt))
		}
		if max > 0 {
			q.Set("maxResults", fmt.Sprint(max))
		}
		q.Set("fields", "*all")
		u := c.apiURL("/rest/api/2/search", q)
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	// default to v3
	body := map[string]any{"jql": jql, "startAt": startAt, "maxResults": max, "fields": []string{"*all"}}
	u := c.apiURL("/rest/api/3/search", nil)
	if err := c.doJSON(ctx, http.MethodPost, u, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
