// Package dns resolves the relay host, falling back to public resolvers when
// the system resolver fails (common on captive or broken networks).
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var publicResolvers = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
	"208.67.222.222",
}

const (
	localTimeout  = time.Second
	remoteTimeout = 2 * time.Second
)

// Lookup resolves host to one IP, preferring IPv4. IP literals are returned as is.
func Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ip, err := lookupWith(lctx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	return raceRemote(ctx, host)
}

func raceRemote(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	results := make(chan result, len(publicResolvers))
	for _, server := range publicResolvers {
		go func(server string) {
			r := &net.Resolver{
				PreferGo: true,
				Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
				},
			}
			ip, err := lookupWith(ctx, r, host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range publicResolvers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed", host, len(publicResolvers))
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
