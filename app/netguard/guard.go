// Package netguard blocks outbound requests to private, loopback, link-local and
// otherwise reserved networks. Addresses are checked when a URL is validated,
// on every redirect hop and again at dial time, so a DNS answer that changes
// between validation and connection cannot reach an internal address.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBlocked is wrapped by every rejection issued by the guard.
var ErrBlocked = errors.New("destination not allowed")

const maxRedirects = 5

var blockedNetworks = mustParseCIDRs(
	"0.0.0.0/8",       // "this" network
	"10.0.0.0/8",      // private
	"100.64.0.0/10",   // carrier-grade NAT
	"127.0.0.0/8",     // loopback
	"169.254.0.0/16",  // link-local
	"172.16.0.0/12",   // private
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"192.88.99.0/24",  // 6to4 relay anycast
	"192.168.0.0/16",  // private
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"224.0.0.0/4",     // multicast
	"240.0.0.0/4",     // reserved, includes broadcast
	"::/128",          // unspecified
	"::1/128",         // loopback
	"64:ff9b::/96",    // NAT64, embeds IPv4
	"100::/64",        // discard-only
	"2001:db8::/32",   // documentation
	"fc00::/7",        // unique local
	"fe80::/10",       // link-local
	"ff00::/8",        // multicast
)

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Config struct {
	// AllowCIDRs exempts ranges from the denylist, e.g. an internal feed server.
	AllowCIDRs  []string
	Resolver    Resolver
	DialTimeout time.Duration
}

type Guard struct {
	resolver Resolver
	allowed  []*net.IPNet
	dialer   *net.Dialer
}

func New(cfg Config) (*Guard, error) {
	allowed := make([]*net.IPNet, 0, len(cfg.AllowCIDRs))
	for _, cidr := range cfg.AllowCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-listed CIDR %q: %w", cidr, err)
		}
		allowed = append(allowed, network)
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	return &Guard{
		resolver: resolver,
		allowed:  allowed,
		dialer:   &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second},
	}, nil
}

// IsPrivateIP reports whether ip belongs to a private or reserved range.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckIP rejects private addresses unless they are explicitly allow-listed.
func (g *Guard) CheckIP(ip net.IP) error {
	for _, network := range g.allowed {
		if network.Contains(ip) {
			return nil
		}
	}
	if IsPrivateIP(ip) {
		return fmt.Errorf("%w: address %s is private or reserved", ErrBlocked, ip)
	}
	return nil
}

// ValidateURL checks the scheme and every address the host resolves to.
func (g *Guard) ValidateURL(ctx context.Context, u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: empty url", ErrBlocked)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not http or https", ErrBlocked, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlocked)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlocked)
	}

	_, err := g.resolve(ctx, host)
	return err
}

// ValidateRawURL parses and validates raw.
func (g *Guard) ValidateRawURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrBlocked, err)
	}
	if err := g.ValidateURL(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DialContext resolves addr, rejects it if any resolved address is blocked and
// connects to the vetted addresses directly.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	ips, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := g.dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", host, lastErr)
}

// CheckRedirect is an http.Client CheckRedirect hook that re-validates every hop.
func (g *Guard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := g.ValidateURL(req.Context(), req.URL); err != nil {
		return fmt.Errorf("redirect blocked: %w", err)
	}
	return nil
}

func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")

	if ip := net.ParseIP(host); ip != nil {
		if err := g.CheckIP(ip); err != nil {
			return nil, err
		}
		return []net.IP{ip}, nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("failed to resolve %s: no addresses", host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if err := g.CheckIP(addr.IP); err != nil {
			return nil, fmt.Errorf("%s resolves to a blocked address: %w", host, err)
		}
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR " + cidr + ": " + err.Error())
		}
		networks = append(networks, network)
	}
	return networks
}
