// Package netguard decides which network destinations outbound calls may
// reach. Webhook targets and creative asset URLs share these rules.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked marks a destination that must never be contacted.
var ErrBlocked = errors.New("netguard: destination not allowed")

var metadataHosts = map[string]struct{}{
	"metadata":                 {},
	"metadata.google.internal": {},
	"metadata.azure.com":       {},
	"instance-data":            {},
}

var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("169.254.169.254"),
	netip.MustParseAddr("169.254.170.2"),
	netip.MustParseAddr("100.100.100.200"),
	netip.MustParseAddr("fd00:ec2::254"),
}

// Resolver is the subset of net.Resolver used for URL checks.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultResolver adapts net.DefaultResolver.
func DefaultResolver() Resolver {
	return net.DefaultResolver
}

// Policy rejects loopback, private-network and cloud metadata destinations.
// Metadata endpoints stay blocked even when AllowPrivate is set.
type Policy struct {
	AllowPrivate bool
	Resolver     Resolver
}

// Validate checks rawURL before a request is accepted. A host that does not
// resolve passes here; Control still checks whatever address is dialed.
func (p Policy) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlocked, u.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlocked)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlocked)
	}
	if _, ok := metadataHosts[host]; ok {
		return fmt.Errorf("%w: %s is a metadata endpoint", ErrBlocked, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return p.CheckAddr(host, addr)
	}

	if !p.AllowPrivate && (host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal")) {
		return fmt.Errorf("%w: %s resolves to a local address", ErrBlocked, host)
	}
	if p.Resolver == nil {
		return nil
	}
	addrs, err := p.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if err := p.CheckAddr(host, addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr applies the address rules to one resolved address. host only
// labels the error.
func (p Policy) CheckAddr(host string, addr netip.Addr) error {
	addr = addr.Unmap()
	for _, m := range metadataAddrs {
		if addr == m {
			return fmt.Errorf("%w: %s is a metadata endpoint", ErrBlocked, host)
		}
	}
	if p.AllowPrivate {
		return nil
	}
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("%w: %s is loopback", ErrBlocked, host)
	case addr.IsPrivate():
		return fmt.Errorf("%w: %s is a private network address", ErrBlocked, host)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("%w: %s is link-local", ErrBlocked, host)
	case addr.IsUnspecified(), addr.IsMulticast():
		return fmt.Errorf("%w: %s is not routable", ErrBlocked, host)
	}
	return nil
}

// Control is a net.Dialer Control hook. It sees the address actually being
// dialed, after DNS, so rebinding and redirects cannot slip past Validate.
func (p Policy) Control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: dial address %q", ErrBlocked, address)
	}
	return p.CheckAddr(host, addr)
}

// Transport returns an http.Transport that dials directly, without proxy
// settings, and runs Control on every connection.
func (p Policy) Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   p.Control,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
