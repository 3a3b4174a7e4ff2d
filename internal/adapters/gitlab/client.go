/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package gitlab

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

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
)

// PerPage is the page size for every list endpoint; a short page ends the
// pagination loop.
const PerPage = 100

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	if prefix := config.ValidateToken(cfg.GitLabToken); prefix != "" {
		log.Debug().Str("token_prefix", prefix).Msg("recognized token prefix")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GitLabBaseURL, "/"),
		token:   cfg.GitLabToken,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

// doJSON performs the request with up to 3 attempts on 429/5xx/transport
// errors and decodes the body into out. Non-retryable statuses translate to
// the typed error kinds the aggregator dispatches on.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	if c.baseURL == "" {
		return &domain.ConfigError{Field: "GITLAB_BASE_URL", Msg: "empty base URL"}
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("PRIVATE-TOKEN", c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		} else {
			err = c.handleResponse(resp, out)
			var ue *domain.UpstreamError
			if errors.As(err, &ue) && (ue.Status == 429 || ue.Status >= 500) {
				lastErr = err
			} else {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
		}
	}
	return lastErr
}

func (c *Client) handleResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", domain.ErrAuth, msg)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", domain.ErrForbidden, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
		default:
			return &domain.UpstreamError{Status: resp.StatusCode, Body: msg}
		}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pageQuery(page int) url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(PerPage))
	q.Set("page", strconv.Itoa(page))
	return q
}

// GetProject validates access to a project and returns its metadata.
func (c *Client) GetProject(ctx context.Context, projectID int64) (*domain.Project, error) {
	u := c.apiURL("/projects/"+strconv.FormatInt(projectID, 10), nil)
	var p domain.Project
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListIssues fetches one page of project issues across all states, with
// iteration data included.
func (c *Client) ListIssues(ctx context.Context, projectID int64, page int) ([]domain.Issue, error) {
	q := pageQuery(page)
	q.Set("scope", "all")
	q.Set("with_labels_details", "false")
	q.Set("with_iterations", "true")
	q.Set("include_subepics", "true")
	u := c.apiURL("/projects/"+strconv.FormatInt(projectID, 10)+"/issues", q)
	var out []domain.Issue
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMilestones fetches one page of project milestones.
func (c *Client) ListMilestones(ctx context.Context, projectID int64, page int) ([]domain.Milestone, error) {
	u := c.apiURL("/projects/"+strconv.FormatInt(projectID, 10)+"/milestones", pageQuery(page))
	var out []domain.Milestone
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGroupEpics fetches one page of group epics. A 404 here means the
// upstream tier has no epics feature; callers treat that as empty.
func (c *Client) ListGroupEpics(ctx context.Context, groupPath string, page int) ([]domain.Epic, error) {
	u := c.apiURL("/groups/"+url.PathEscape(groupPath)+"/epics", pageQuery(page))
	var out []domain.Epic
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: epics on group %s", domain.ErrFeatureUnavailable, groupPath)
		}
		return nil, err
	}
	return out, nil
}

// ListGroupProjects fetches one page of a group's projects, subgroups
// included, archived excluded.
func (c *Client) ListGroupProjects(ctx context.Context, groupPath string, page int) ([]domain.Project, error) {
	q := pageQuery(page)
	q.Set("include_subgroups", "true")
	q.Set("archived", "false")
	u := c.apiURL("/groups/"+url.PathEscape(groupPath)+"/projects", q)
	var out []domain.Project
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLabelEvents returns the full label-change history for one issue,
// following pagination to the end. 404/403 means the deployment does not
// expose resource events.
func (c *Client) ListLabelEvents(ctx context.Context, projectID, issueIID int64) ([]domain.LabelEvent, error) {
	base := "/projects/" + strconv.FormatInt(projectID, 10) + "/issues/" + strconv.FormatInt(issueIID, 10) + "/resource_label_events"
	var all []domain.LabelEvent
	for page := 1; ; page++ {
		u := c.apiURL(base, pageQuery(page))
		var evs []struct {
			ID        int64     `json:"id"`
			CreatedAt time.Time `json:"created_at"`
			Action    string    `json:"action"`
			Label     *struct {
				Name string `json:"name"`
			} `json:"label"`
		}
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &evs); err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
				return nil, fmt.Errorf("%w: resource label events", domain.ErrFeatureUnavailable)
			}
			return nil, err
		}
		for _, e := range evs {
			name := ""
			if e.Label != nil {
				name = e.Label.Name
			}
			all = append(all, domain.LabelEvent{ID: e.ID, CreatedAt: e.CreatedAt, Action: domain.LabelEventAction(e.Action), LabelName: name})
		}
		if len(evs) < PerPage {
			break
		}
	}
	return all, nil
}

// SupportsStateEvents probes the resource_state_events endpoint.
func (c *Client) SupportsStateEvents(ctx context.Context, projectID, issueIID int64) bool {
	base := "/projects/" + strconv.FormatInt(projectID, 10) + "/issues/" + strconv.FormatInt(issueIID, 10) + "/resource_state_events"
	u := c.apiURL(base, pageQuery(1))
	var out []json.RawMessage
	return c.doJSON(ctx, http.MethodGet, u, nil, &out) == nil
}

// UpdateIssueAssignee is the single write operation against the upstream.
func (c *Client) UpdateIssueAssignee(ctx context.Context, projectID, issueIID, assigneeID int64) error {
	u := c.apiURL("/projects/"+strconv.FormatInt(projectID, 10)+"/issues/"+strconv.FormatInt(issueIID, 10), nil)
	body := map[string]int64{"assignee_id": assigneeID}
	return c.doJSON(ctx, http.MethodPut, u, body, nil)
}
