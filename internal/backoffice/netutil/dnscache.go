package netutil

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDNSCacheTTL    = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
)

// CachedDialer dials through a DNS cache so repeated calls to the same
// integration host do not each hit the resolver.
type CachedDialer struct {
	resolver *dnscache.Resolver
	ttl      time.Duration
	dialer   *net.Dialer
}

// NewCachedDialer creates a dialer whose cache entries are refreshed every ttl
// once Run is started.
func NewCachedDialer(ttl time.Duration) *CachedDialer {
	if ttl <= 0 {
		ttl = DefaultDNSCacheTTL
	}
	return &CachedDialer{
		resolver: &dnscache.Resolver{},
		ttl:      ttl,
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Run refreshes the cache until ctx is cancelled.
func (d *CachedDialer) Run(ctx context.Context) {
	log.Info().Dur("ttl", d.ttl).Msg("DNS cache refresher started")
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.resolver.Refresh(true)
			log.Debug().Dur("ttl", d.ttl).Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves the host through the cache and dials the first address.
func (d *CachedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return d.dialer.DialContext(ctx, network, address)
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}
	return d.dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}

// NewHTTPClient returns a client for outbound integration calls. A nil
// dialer uses the default transport dialer.
func NewHTTPClient(d *CachedDialer, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if d != nil {
		transport.DialContext = d.DialContext
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
