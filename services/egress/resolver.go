package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver turns a hostname into the addresses it currently points at
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver uses the operating system resolver
type SystemResolver struct{}

// LookupIP implements Resolver
func (SystemResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// DNSResolver queries explicit upstream servers for A and AAAA records.
// Servers are tried in order until one answers.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver creates a resolver for servers given as host:port
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSResolver{
		servers: servers,
		client:  &dns.Client{Timeout: timeout},
	}
}

var errNoServers = errors.New("no dns servers configured")

// LookupIP implements Resolver
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.servers) == 0 {
		return nil, errNoServers
	}

	fqdn := dns.Fqdn(host)
	var addrs []netip.Addr
	var firstErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answer, err := r.exchange(ctx, fqdn, qtype)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, rr := range answer {
			var ip net.IP
			switch rec := rr.(type) {
			case *dns.A:
				ip = rec.A
			case *dns.AAAA:
				ip = rec.AAAA
			default:
				continue
			}
			if addr, ok := netip.AddrFromSlice(ip); ok {
				addrs = append(addrs, addr.Unmap())
			}
		}
	}

	if len(addrs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return addrs, nil
}

func (r *DNSResolver) exchange(ctx context.Context, fqdn string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
			return in.Answer, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: no such host", fqdn)
		default:
			lastErr = fmt.Errorf("%s: server %s answered %s", fqdn, server, dns.RcodeToString[in.Rcode])
		}
	}
	return nil, lastErr
}
