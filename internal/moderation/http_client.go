package moderation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"creative-review-engine/internal/policy"
)

const maxResponseBytes = 1 << 20

// HTTPClient calls a moderation service over JSON/HTTP.
type HTTPClient struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{URL: url, APIKey: apiKey, Timeout: timeout, Client: &http.Client{}}
}

type reviewRequest struct {
	CreativeID  string         `json:"creative_id"`
	Name        string         `json:"name,omitempty"`
	Format      string         `json:"format,omitempty"`
	Text        string         `json:"text,omitempty"`
	AssetURL    string         `json:"asset_url,omitempty"`
	AssetBase64 string         `json:"asset_base64,omitempty"`
	AssetType   string         `json:"asset_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Criteria    string         `json:"criteria,omitempty"`
}

type reviewResponse struct {
	Verdict         string          `json:"verdict"`
	Confidence      json.RawMessage `json:"confidence"`
	Category        string          `json:"category"`
	Reason          string          `json:"reason"`
	Recommendations []string        `json:"recommendations"`
}

// Review never returns a Go error; transport, status and decode failures
// land on Result.Err.
func (c *HTTPClient) Review(ctx context.Context, content Content, criteria Criteria) Result {
	body, err := json.Marshal(reviewRequest{
		CreativeID:  content.CreativeID,
		Name:        content.Name,
		Format:      content.Format,
		Text:        content.Text,
		AssetURL:    content.AssetURL,
		AssetBase64: encodeAsset(content.Asset),
		AssetType:   content.AssetType,
		Metadata:    content.Metadata,
		Criteria:    string(criteria),
	})
	if err != nil {
		return Failed(fmt.Errorf("encode moderation request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return Failed(fmt.Errorf("build moderation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Failed(fmt.Errorf("moderation call: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failed(fmt.Errorf("read moderation response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failed(fmt.Errorf("moderation service responded %d", resp.StatusCode))
	}
	return ParseResponse(raw)
}

// ParseResponse decodes a moderation response body. Invalid JSON is an
// error; valid JSON with a missing or unknown verdict yields VerdictUnknown
// so the policy routes it to a human.
func ParseResponse(raw []byte) Result {
	var out reviewResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	res := Result{
		Verdict:         policy.ParseVerdict(out.Verdict),
		Category:        out.Category,
		Reason:          out.Reason,
		Recommendations: out.Recommendations,
		Confidence:      -1,
	}
	if v, ok := parseConfidence(out.Confidence); ok {
		res.Confidence = v
	}
	return res
}

// parseConfidence accepts a number or a numeric string.
func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func encodeAsset(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
