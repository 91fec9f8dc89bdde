// Package httptls optionally terminates TLS for the central service via
// certmagic's automatic ACME certificates, falling back to plain HTTP when
// no domain is configured. Grounded on the teacher's cmd/server/main.go
// certmagic wiring (DefaultACME.Email, OnDemand domain decision, HTTPS
// entry point), simplified here to a single configured domain rather than
// a multi-tenant hosting decision function.
package httptls

import (
	"crypto/tls"
	"net"
	"net/http"

	"github.com/caddyserver/certmagic"
)

// Serve runs handler on addr. If domain is non-empty, it is served over
// automatic HTTPS via certmagic (which manages its own :80/:443
// listeners for ACME and redirection); addr is ignored in that case,
// matching certmagic.HTTPS's behavior. If domain is empty, handler is
// served as plain HTTP on addr.
func Serve(domain, addr string, handler http.Handler) error {
	if domain == "" {
		return http.ListenAndServe(addr, handler)
	}

	return certmagic.HTTPS([]string{domain}, handler)
}

// Listener returns a TLS-terminating net.Listener for domain bound to
// addr, for callers that need to compose the listener with other
// middleware (e.g. the relay's connection limiter) instead of handing
// off to certmagic.HTTPS directly.
func Listener(domain, addr string) (net.Listener, error) {
	tlsConfig, err := certmagic.TLS([]string{domain})
	if err != nil {
		return nil, err
	}

	return tls.Listen("tcp", addr, tlsConfig)
}
