package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"creative-review-engine/internal/models"
)

var ErrNoStateObject = errors.New("verify: task references no media buy or creative")

// HTTPStateAccessor reads state from the media-buy engine's JSON API:
// GET {BaseURL}/media-buys/{id} or {BaseURL}/creatives/{id}. Field names may
// be dotted paths into the returned document.
type HTTPStateAccessor struct {
	BaseURL string
	Client  *http.Client
	Header  http.Header
}

func NewHTTPStateAccessor(baseURL string, timeout time.Duration) *HTTPStateAccessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStateAccessor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPStateAccessor) Fields(ctx context.Context, task models.ReviewTask, fields []string) (map[string]any, error) {
	var path string
	switch {
	case task.Context.MediaBuyID != "":
		path = "/media-buys/" + url.PathEscape(task.Context.MediaBuyID)
	case task.Context.CreativeID != "":
		path = "/creatives/" + url.PathEscape(task.Context.CreativeID)
	default:
		return nil, ErrNoStateObject
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range a.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if task.TenantID != "" {
		req.Header.Set("X-Tenant-ID", task.TenantID)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch state: status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 4<<20))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(doc, f); ok {
			out[f] = v
		}
	}
	return out, nil
}

// lookup resolves "a.b.c" against nested objects. An exact top-level key
// containing dots wins over path traversal.
func lookup(doc map[string]any, field string) (any, bool) {
	if v, ok := doc[field]; ok {
		return v, true
	}
	var cur any = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// StaticStateAccessor serves fixed values keyed by task id. Used in tests
// and when no state URL is configured.
type StaticStateAccessor map[string]map[string]any

func (s StaticStateAccessor) Fields(_ context.Context, task models.ReviewTask, fields []string) (map[string]any, error) {
	state := s[task.TaskID]
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := state[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}
