package webhook

import (
	"context"
	"errors"
	"net/netip"
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

func TestTargetValidator(t *testing.T) {
	resolver := fakeResolver{
		"hooks.example.com":  {netip.MustParseAddr("93.184.216.34")},
		"sneaky.example.com": {netip.MustParseAddr("10.0.0.8")},
		"meta.example.com":   {netip.MustParseAddr("169.254.169.254")},
	}
	strict := TargetValidator{Resolver: resolver}
	lax := TargetValidator{AllowPrivate: true, Resolver: resolver}

	tests := []struct {
		url      string
		strictOK bool
		laxOK    bool
	}{
		{"https://hooks.example.com/cb", true, true},
		{"https://unresolvable.example.com/cb", true, true},
		{"http://127.0.0.1:8080/cb", false, true},
		{"http://localhost/cb", false, true},
		{"http://10.1.2.3/cb", false, true},
		{"https://sneaky.example.com/cb", false, true},
		{"http://[::1]/cb", false, true},
		{"http://169.254.169.254/latest", false, false},
		{"http://[fd00:ec2::254]/latest", false, false},
		{"http://metadata.google.internal/x", false, false},
		{"https://meta.example.com/x", false, false},
		{"ftp://hooks.example.com/cb", false, false},
		{"https://user:pw@hooks.example.com/cb", false, false},
		{"not a url", false, false},
	}
	for _, tc := range tests {
		if err := strict.Validate(context.Background(), tc.url); (err == nil) != tc.strictOK {
			t.Fatalf("strict %s: err=%v, want ok=%v", tc.url, err, tc.strictOK)
		} else if err != nil && !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("strict %s: expected ErrInvalidTarget, got %v", tc.url, err)
		}
		if err := lax.Validate(context.Background(), tc.url); (err == nil) != tc.laxOK {
			t.Fatalf("lax %s: err=%v, want ok=%v", tc.url, err, tc.laxOK)
		}
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"status":"approved"}`)
	sig := Sign("k", 1700000000, body)
	if !VerifySignature("k", 1700000000, body, sig) {
		t.Fatalf("signature should verify")
	}
	if VerifySignature("other", 1700000000, body, sig) {
		t.Fatalf("wrong secret must not verify")
	}
	if VerifySignature("k", 1700000001, body, sig) {
		t.Fatalf("wrong timestamp must not verify")
	}
	if VerifySignature("k", 1700000000, body, sig[len(signaturePrefix):]) {
		t.Fatalf("signature without prefix must not verify")
	}
}
