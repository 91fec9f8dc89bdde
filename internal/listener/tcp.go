// Package listener provides the relay's TCP accept path: hardened listener
// construction plus per-IP connection limiting, both operating below
// relaysession so a flood of bare connections never reaches the handshake
// code.
package listener

import (
	"net"
	"runtime"

	"github.com/valyala/tcplisten"
)

// ListenRelay creates the TCP listener a relay accepts player connections
// on, with platform-specific hardening.
//
// On Linux, enables:
//   - TCP_DEFER_ACCEPT: the kernel only wakes the accept loop once the
//     peer has actually sent bytes, filtering connect-and-idle peers
//     before they ever reach relaysession.Authenticate.
//   - TCP_FASTOPEN: cuts one round trip for reconnecting clients.
//
// On other platforms, falls back to a plain net.Listen.
func ListenRelay(network, addr string) (net.Listener, error) {
	if network == "tcp" {
		network = "tcp4"
	}

	if runtime.GOOS == "linux" {
		cfg := tcplisten.Config{
			DeferAccept: true,
			FastOpen:    true,
		}
		return cfg.NewListener(network, addr)
	}

	return net.Listen(network, addr)
}

// ListenConfig holds the subset of tcplisten's options a deployment might
// want to tune (e.g. ReusePort for a multi-process relay pool).
type ListenConfig struct {
	DeferAccept bool
	FastOpen    bool
	ReusePort   bool
}

// Listen creates a TCP listener with the given configuration, same
// fallback behavior as ListenRelay.
func Listen(network, addr string, cfg ListenConfig) (net.Listener, error) {
	if runtime.GOOS == "linux" {
		tcpCfg := tcplisten.Config{
			DeferAccept: cfg.DeferAccept,
			FastOpen:    cfg.FastOpen,
			ReusePort:   cfg.ReusePort,
		}
		return tcpCfg.NewListener(network, addr)
	}

	return net.Listen(network, addr)
}
