package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"creative-review-engine/internal/policy"
)

func TestHTTPClient_ParsesVerdict(t *testing.T) {
	var got reviewRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"verdict":"APPROVED","confidence":0.97,"category":"general","reason":"clean","recommendations":["none"]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", time.Second)
	res := c.Review(context.Background(), Content{CreativeID: "cr_1", Text: "buy now", Asset: []byte{1, 2}}, "no alcohol")
	if !res.Ok() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Verdict != policy.VerdictApprove || res.Confidence != 0.97 || res.Category != "general" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.CreativeID != "cr_1" || got.Criteria != "no alcohol" || got.AssetBase64 != "AQI=" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestHTTPClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"verdict":`)) }},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			res := NewHTTPClient(srv.URL, "", 100*time.Millisecond).Review(context.Background(), Content{CreativeID: "cr_1"}, "")
			if res.Ok() {
				t.Fatalf("expected failure, got %+v", res)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	res := ParseResponse([]byte(`{"confidence":"0.4","category":"political"}`))
	if !res.Ok() || res.Verdict != policy.VerdictUnknown || res.Confidence != 0.4 {
		t.Fatalf("missing verdict should parse as unknown: %+v", res)
	}
	res = ParseResponse([]byte(`{"verdict":"maybe"}`))
	if res.Verdict != policy.VerdictUnknown || res.Confidence != -1 {
		t.Fatalf("unknown verdict without confidence: %+v", res)
	}
	res = ParseResponse([]byte(`not json`))
	if !errors.Is(res.Err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", res.Err)
	}
}
