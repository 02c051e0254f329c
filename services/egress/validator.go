package egress

import (
	"context"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/upb/request-shield/services"
)

// Options configures destination validation and the fetch client
type Options struct {
	// Allowlist holds hostnames, "*.suffix" patterns or CIDRs whose
	// addresses skip the private-range checks.
	Allowlist []string
	// DenyHosts is always enforced, even for allowlisted addresses.
	DenyHosts []string
	// AllowedPorts restricts destination ports; empty allows any port.
	AllowedPorts []int
	Timeout time.Duration
	// MaxRedirects caps followed redirects; zero uses DefaultMaxRedirects
	// and a negative value refuses every redirect.
	MaxRedirects int
	MaxBodyBytes int64
}

// Destination is an approved target: the URL plus the addresses that were
// checked. Connections must go to one of IPs, never to a fresh lookup.
type Destination struct {
	URL  *url.URL
	Host string
	Port string
	IPs  []netip.Addr
}

// DialAddress is the first pinned host:port to connect to
func (d *Destination) DialAddress() string {
	return d.DialAddresses()[0]
}

// DialAddresses lists every pinned host:port in resolution order
func (d *Destination) DialAddresses() []string {
	port := mustPort(d.Port)
	out := make([]string, len(d.IPs))
	for i, ip := range d.IPs {
		out[i] = netip.AddrPortFrom(ip, port).String()
	}
	return out
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),     // "this" network
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),  // IETF protocol assignments
	netip.MustParsePrefix("198.18.0.0/15"), // benchmarking
	netip.MustParsePrefix("64:ff9b::/96"),  // NAT64 can embed any IPv4
}

// Validator decides whether an outbound URL may be fetched
type Validator struct {
	opts      Options
	resolver  Resolver
	allowed   []string
	denied    []string
	allowNets []netip.Prefix
	ports     map[int]struct{}
}

// NewValidator builds a validator. A nil resolver uses the system resolver.
func NewValidator(opts Options, resolver Resolver) *Validator {
	if resolver == nil {
		resolver = SystemResolver{}
	}
	v := &Validator{opts: opts, resolver: resolver}
	for _, entry := range opts.Allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			v.allowNets = append(v.allowNets, prefix.Masked())
			continue
		}
		if entry != "" {
			v.allowed = append(v.allowed, entry)
		}
	}
	for _, entry := range opts.DenyHosts {
		if entry = strings.ToLower(strings.TrimSpace(entry)); entry != "" {
			v.denied = append(v.denied, entry)
		}
	}
	if len(opts.AllowedPorts) > 0 {
		v.ports = make(map[int]struct{}, len(opts.AllowedPorts))
		for _, p := range opts.AllowedPorts {
			v.ports[p] = struct{}{}
		}
	}
	return v
}

// Validate parses rawURL and checks scheme, port, host lists and every
// resolved address. No connection is opened.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*Destination, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "malformed url", err)
	}
	return v.ValidateURL(ctx, u)
}

// ValidateURL is Validate for an already parsed URL
func (v *Validator) ValidateURL(ctx context.Context, u *url.URL) (*Destination, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "scheme must be http or https", nil).
			WithDetail("scheme", u.Scheme)
	}
	if u.User != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "credentials in url are not allowed", nil)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "url has no host", nil)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if scheme == "https" {
			port = "443"
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "invalid port", err).
			WithDetail("port", port)
	}
	if v.ports != nil {
		if _, ok := v.ports[n]; !ok {
			return nil, blocked("port not allowed", host).WithDetail("port", n)
		}
	}

	if v.isDenied(host) {
		return nil, blocked("host is on the deny list", host)
	}

	ips, err := v.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	hostAllowed := v.hostAllowlisted(host)
	for _, ip := range ips {
		if hostAllowed || v.ipAllowlisted(ip) {
			continue
		}
		if reason := restrictedReason(ip); reason != "" {
			return nil, blocked(reason, host).WithDetail("ip", ip.String())
		}
	}

	return &Destination{URL: u, Host: host, Port: port, IPs: ips}, nil
}

func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip.Unmap()}, nil
	}

	ips, err := v.resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeDNSFailure, "dns lookup failed", err).
			WithDetail("host", host)
	}
	if len(ips) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeDNSFailure, "host has no addresses", nil).
			WithDetail("host", host)
	}

	out := make([]netip.Addr, len(ips))
	for i, ip := range ips {
		out[i] = ip.Unmap()
	}
	return out, nil
}

func (v *Validator) isDenied(host string) bool {
	for _, pattern := range v.denied {
		if matchesHost(host, pattern) {
			return true
		}
	}
	return false
}

func (v *Validator) hostAllowlisted(host string) bool {
	for _, pattern := range v.allowed {
		if matchesHost(host, pattern) {
			return true
		}
	}
	return false
}

func (v *Validator) ipAllowlisted(ip netip.Addr) bool {
	for _, prefix := range v.allowNets {
		if prefix.Contains(ip) {
			return true
		}
	}
	for _, pattern := range v.allowed {
		if allowed, err := netip.ParseAddr(pattern); err == nil && allowed.Unmap() == ip {
			return true
		}
	}
	return false
}

// matchesHost matches an exact hostname or a "*.suffix" wildcard.
// The wildcard does not match the bare suffix itself.
func matchesHost(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix)
	}
	return false
}

// restrictedReason returns why ip may not be contacted, or "" when it may
func restrictedReason(ip netip.Addr) string {
	ip = ip.Unmap()
	switch {
	case ip.IsLoopback():
		return "loopback address blocked"
	case ip.IsPrivate():
		return "private address blocked"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address blocked"
	case ip.IsMulticast(), ip.IsInterfaceLocalMulticast():
		return "multicast address blocked"
	case ip.IsUnspecified():
		return "unspecified address blocked"
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(ip) {
			return "reserved address blocked"
		}
	}
	return ""
}

func blocked(reason, host string) *services.DomainError {
	return services.NewDomainError(services.ErrorTypeEgressBlocked, reason, nil).WithDetail("host", host)
}

func mustPort(p string) uint16 {
	n, _ := strconv.Atoi(p)
	return uint16(n)
}
