package netguard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
)

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestPolicyValidate(t *testing.T) {
	resolver := fakeResolver{
		"cdn.example.com":    {netip.MustParseAddr("93.184.216.34")},
		"sneaky.example.com": {netip.MustParseAddr("192.168.1.4")},
	}
	strict := Policy{Resolver: resolver}
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://cdn.example.com/a.png", true},
		{"https://unresolvable.example.com/a.png", true},
		{"http://127.0.0.1:9000/a.png", false},
		{"https://sneaky.example.com/a.png", false},
		{"http://metadata/computeMetadata", false},
		{"file:///etc/passwd", false},
	}
	for _, tc := range tests {
		err := strict.Validate(context.Background(), tc.url)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v, want ok=%v", tc.url, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrBlocked) {
			t.Fatalf("%s: expected ErrBlocked, got %v", tc.url, err)
		}
	}
}

func TestPolicyControl(t *testing.T) {
	strict := Policy{}
	lax := Policy{AllowPrivate: true}
	tests := []struct {
		address  string
		strictOK bool
		laxOK    bool
	}{
		{"93.184.216.34:443", true, true},
		{"127.0.0.1:80", false, true},
		{"[::1]:8080", false, true},
		{"10.0.0.8:443", false, true},
		{"[::ffff:10.0.0.8]:443", false, true},
		{"169.254.169.254:80", false, false},
		{"[fd00:ec2::254]:80", false, false},
		{"0.0.0.0:80", false, true},
	}
	for _, tc := range tests {
		if err := strict.Control("tcp", tc.address, nil); (err == nil) != tc.strictOK {
			t.Fatalf("strict %s: err=%v, want ok=%v", tc.address, err, tc.strictOK)
		}
		if err := lax.Control("tcp", tc.address, nil); (err == nil) != tc.laxOK {
			t.Fatalf("lax %s: err=%v, want ok=%v", tc.address, err, tc.laxOK)
		}
	}
}

func TestTransportRefusesLoopbackDial(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: Policy{}.Transport()}
	_, err := client.Get(srv.URL)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked from dial, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server should not be reached, got %d hits", hits.Load())
	}

	client = &http.Client{Transport: Policy{AllowPrivate: true}.Transport()}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("lax transport: %v", err)
	}
	resp.Body.Close()
	if hits.Load() != 1 {
		t.Fatalf("expected one hit, got %d", hits.Load())
	}
}
