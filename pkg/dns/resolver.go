package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/log"
)

const (
	// DefaultResolvConf is read when no servers are configured
	DefaultResolvConf = "/etc/resolv.conf"

	// DefaultTimeout bounds a single exchange with one server
	DefaultTimeout = 5 * time.Second
)

// ErrNoAddresses is returned when every server answered without an A or AAAA record
var ErrNoAddresses = errors.New("no addresses found")

// Config holds resolver configuration
type Config struct {
	Servers []string // host:port of the servers to query, in order
	Search  []string // search domains for relative names
	Ndots   int
	Timeout time.Duration
}

// Resolver looks up the hostnames a declaration references so that an
// unreachable NTP, RADIUS, LDAP or cluster peer fails before any device call.
type Resolver struct {
	client  *dns.Client
	servers []string
	search  []string
	ndots   int
	logger  zerolog.Logger
}

// NewResolver creates a resolver. Without configured servers it uses the
// nameservers and search list of /etc/resolv.conf.
func NewResolver(cfg Config) (*Resolver, error) {
	if len(cfg.Servers) == 0 {
		cc, err := dns.ClientConfigFromFile(DefaultResolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", DefaultResolvConf, err)
		}
		for _, s := range cc.Servers {
			cfg.Servers = append(cfg.Servers, net.JoinHostPort(s, cc.Port))
		}
		if len(cfg.Search) == 0 {
			cfg.Search = cc.Search
		}
		if cfg.Ndots == 0 {
			cfg.Ndots = cc.Ndots
		}
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no DNS servers configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Ndots == 0 {
		cfg.Ndots = 1
	}

	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		servers[i] = s
	}

	return &Resolver{
		client:  &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		servers: servers,
		search:  cfg.Search,
		ndots:   cfg.Ndots,
		logger:  log.WithComponent("dns"),
	}, nil
}

// LookupHost returns the IPv4 and IPv6 addresses of host. IP literals and
// localhost are returned without a query.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	if strings.EqualFold(host, "localhost") {
		return []string{"127.0.0.1"}, nil
	}

	var lastErr error = ErrNoAddresses
	for _, name := range r.candidates(host) {
		addrs, err := r.lookupName(ctx, name)
		if err == nil && len(addrs) > 0 {
			r.logger.Debug().Str("host", host).Strs("addresses", addrs).Msg("Resolved host")
			return addrs, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// candidates applies the resolv.conf search rules to host
func (r *Resolver) candidates(host string) []string {
	if dns.IsFqdn(host) {
		return []string{host}
	}
	var searched []string
	for _, domain := range r.search {
		searched = append(searched, dns.Fqdn(host+"."+strings.TrimSuffix(domain, ".")))
	}
	if dns.CountLabel(host)-1 >= r.ndots {
		return append([]string{dns.Fqdn(host)}, searched...)
	}
	return append(searched, dns.Fqdn(host))
}

func (r *Resolver) lookupName(ctx context.Context, name string) ([]string, error) {
	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		records, err := r.exchange(ctx, name, qtype)
		if err != nil {
			return nil, err
		}
		for _, rr := range records {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	return addrs, nil
}

// exchange asks each server in turn until one answers authoritatively
func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			r.logger.Debug().Err(err).Str("server", server).Str("name", name).Msg("DNS exchange failed")
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp.Answer, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: %s", name, dns.RcodeToString[resp.Rcode])
		default:
			lastErr = fmt.Errorf("%s: server %s answered %s", name, server, dns.RcodeToString[resp.Rcode])
		}
	}
	return nil, lastErr
}
