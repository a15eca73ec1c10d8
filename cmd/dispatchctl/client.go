package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shiva/sosdispatch/internal/model"
)

// apiError is a non-2xx answer from the dispatch API.
type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Code)
}

// client talks to /api/v1 with a bearer token.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) Feed(ctx context.Context) (*model.FeedView, error) {
	var v model.FeedView
	if err := c.do(ctx, http.MethodGet, "/feed", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *client) Units(ctx context.Context) ([]model.Unit, error) {
	var units []model.Unit
	if err := c.do(ctx, http.MethodGet, "/units", nil, &units); err != nil {
		return nil, err
	}
	return units, nil
}

func (c *client) RegisterUnit(ctx context.Context, spec any) (*model.Unit, error) {
	var u model.Unit
	if err := c.do(ctx, http.MethodPost, "/units", spec, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *client) SetUnitStatus(ctx context.Context, id string, status model.UnitStatus, task *string) (*model.Unit, error) {
	body := map[string]any{"status": status}
	if task != nil {
		body["current_task"] = *task
	}
	var u model.Unit
	if err := c.do(ctx, http.MethodPatch, "/units/"+url.PathEscape(id)+"/status", body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *client) Cases(ctx context.Context, statuses []string, reporter string) ([]model.CaseView, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if reporter != "" {
		q.Set("reporter", reporter)
	}
	path := "/emergencies"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var views []model.CaseView
	if err := c.do(ctx, http.MethodGet, path, nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *client) CreateCase(ctx context.Context, body any) (*model.Case, error) {
	var cs model.Case
	if err := c.do(ctx, http.MethodPost, "/emergencies", body, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (c *client) Claim(ctx context.Context, caseID, unitID string) (*model.Assignment, error) {
	var asg model.Assignment
	body := map[string]string{"unit_id": unitID}
	if err := c.do(ctx, http.MethodPost, "/emergencies/"+url.PathEscape(caseID)+"/claim", body, &asg); err != nil {
		return nil, err
	}
	return &asg, nil
}

func (c *client) Release(ctx context.Context, caseID string, status model.CaseStatus) (*model.Case, error) {
	var cs model.Case
	body := map[string]model.CaseStatus{"status": status}
	if err := c.do(ctx, http.MethodPost, "/emergencies/"+url.PathEscape(caseID)+"/release", body, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}
