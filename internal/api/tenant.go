package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type Target struct {
	ID          ID        `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	URL         string    `json:"url" yaml:"url"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	InScope     []string  `json:"in_scope,omitempty" yaml:"in_scope,omitempty"`
	OutOfScope  []string  `json:"out_of_scope,omitempty" yaml:"out_of_scope,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

type CreateTargetRequest struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	InScope     []string `json:"in_scope,omitempty"`
	OutOfScope  []string `json:"out_of_scope,omitempty"`
}

type QueueEntry struct {
	ID          ID        `json:"id" yaml:"id"`
	TargetID    ID        `json:"target_id" yaml:"target_id"`
	ScheduledAt time.Time `json:"scheduled_at" yaml:"scheduled_at"`
	Priority    int       `json:"priority" yaml:"priority"`
	Status      string    `json:"status" yaml:"status"`
	ScanType    string    `json:"scan_type,omitempty" yaml:"scan_type,omitempty"`
}

type CreateQueueEntryRequest struct {
	TargetID    ID        `json:"target_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Priority    int       `json:"priority"`
	ScanType    string    `json:"scan_type,omitempty"`
}

func (c *Client) ListTargets(ctx context.Context, opts ListOptions) ([]Target, error) {
	var out []Target
	if err := c.do(ctx, request{method: http.MethodGet, path: "/targets", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTarget(ctx context.Context, req CreateTargetRequest) (*Target, error) {
	var out Target
	if err := c.do(ctx, request{method: http.MethodPost, path: "/targets", body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListQueue(ctx context.Context, opts ListOptions) ([]QueueEntry, error) {
	var out []QueueEntry
	if err := c.do(ctx, request{method: http.MethodGet, path: "/queue", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateQueueEntry(ctx context.Context, req CreateQueueEntryRequest) (*QueueEntry, error) {
	var out QueueEntry
	if err := c.do(ctx, request{method: http.MethodPost, path: "/queue", body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.TenantID != "" {
		v.Set("tenant_id", o.TenantID)
	}
	if o.Search != "" {
		v.Set("search", o.Search)
	}
	return v
}
