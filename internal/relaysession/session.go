// Package relaysession implements the relay side of the session handshake:
// verifying a client's session token, re-deriving its authkey, enforcing
// the userlist, and establishing a cryptobox — after which ordinary
// gameplay packets can flow. Grounded on
// original_source/server/game/src/server_thread's peer lifecycle and on
// the teacher's connection bookkeeping, with the per-peer state machine
// modeled as an atomic int32 enum the way
// yuzhou8787-bdls/agent-tcp/tcp_peer.go tracks authenticationState.
package relaysession

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/globed-relay/core/internal/authkey"
	"github.com/globed-relay/core/internal/cryptobox"
	"github.com/globed-relay/core/internal/sessiontoken"
	"github.com/globed-relay/core/internal/userlist"
)

// State is a peer's position in the handshake lifecycle.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrUserlistRejected is returned when the authenticated account is denied
// by the configured userlist policy.
var ErrUserlistRejected = errors.New("relaysession: account rejected by userlist policy")

// Peer tracks one relay connection's handshake state. The state field is
// accessed atomically so the accept-loop goroutine and the packet-reader
// goroutine can observe/transition it without a separate mutex.
type Peer struct {
	state int32

	RemoteAddr  netip.Addr
	AccountID   int32
	AccountName string

	box *cryptobox.Box

	packetLimiter *rate.Limiter
}

// NewPeer creates a peer in StateUnauthenticated, with a packet-rate
// ceiling of ratePerSecond sustained and burst additional packets.
func NewPeer(remote netip.Addr, ratePerSecond float64, burst int) *Peer {
	return &Peer{
		state:         int32(StateUnauthenticated),
		RemoteAddr:    remote,
		packetLimiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// State returns the peer's current state.
func (p *Peer) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Peer) transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&p.state, int32(from), int32(to))
}

// AllowPacket reports whether the peer may send another packet right now,
// enforcing the per-connection rate ceiling independent of anything the
// central service does.
func (p *Peer) AllowPacket() bool {
	return p.packetLimiter.Allow()
}

// CheckRate enforces the same ceiling as AllowPacket but reports the
// violation as ErrRatelimited, the distinct error kind a caller should log
// and tear the connection down on.
func (p *Peer) CheckRate() error {
	if !p.AllowPacket() {
		return ErrRatelimited
	}
	return nil
}

// Box returns the peer's established cryptobox, or nil before
// StateEstablished.
func (p *Peer) Box() *cryptobox.Box {
	return p.box
}

// Encrypt seals plaintext for this peer. Returns ErrWrongCryptoBoxState if
// the handshake has not yet established a box, and ErrEncryptionFailed if
// the underlying seal operation fails.
func (p *Peer) Encrypt(plaintext []byte) ([]byte, error) {
	if p.State() != StateEstablished {
		return nil, ErrWrongCryptoBoxState
	}

	box, err := p.box.Seal(plaintext)
	if err != nil {
		return nil, ErrEncryptionFailed
	}
	return box, nil
}

// Decrypt opens a sealed box received from this peer. Returns
// ErrWrongCryptoBoxState before the handshake establishes a box,
// ErrMalformedCiphertext if box is too short to carry a nonce, and
// ErrDecryptionFailed if authentication fails.
func (p *Peer) Decrypt(box []byte) ([]byte, error) {
	if p.State() != StateEstablished {
		return nil, ErrWrongCryptoBoxState
	}
	if len(box) < cryptobox.NonceSize {
		return nil, ErrMalformedCiphertext
	}

	plaintext, err := p.box.Open(box)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// HandshakeInput bundles the context a relay needs to authenticate one
// peer's session token, independent of transport.
type HandshakeInput struct {
	Token       string
	Secrets     authkey.Secrets
	Salt        []byte
	UserlistMode userlist.Mode
	UserlistIDs  map[int32]struct{}
}

// Authenticate runs the full C7 handshake for peer: verify the session
// token, enforce the userlist, re-derive the authkey, and establish the
// cryptobox. On success peer transitions to StateEstablished; on any
// failure it transitions to StateClosed and the caller must drop the
// connection.
//
// A second handshake attempt on a peer that already completed one is
// rejected as ErrWrongCryptoBoxState, not the generic ErrInvalidState: a
// cryptobox is already present when the protocol expects none.
func Authenticate(peer *Peer, iss *sessiontoken.Issuer, in HandshakeInput, now time.Time) error {
	if peer.State() == StateEstablished {
		return ErrWrongCryptoBoxState
	}
	if in.Token == "" {
		return ErrMalformedLoginAttempt
	}

	if !peer.transition(StateUnauthenticated, StateAuthenticating) {
		return ErrInvalidState
	}

	claims, err := iss.Verify(in.Token, now)
	if err != nil {
		peer.transition(StateAuthenticating, StateClosed)
		return err
	}

	if userlist.Rejects(in.UserlistMode, in.UserlistIDs, claims.AccountID) {
		peer.transition(StateAuthenticating, StateClosed)
		return ErrUserlistRejected
	}

	key, err := authkey.Derive(in.Secrets, claims.AccountID, claims.AccountName)
	if err != nil {
		peer.transition(StateAuthenticating, StateClosed)
		return err
	}

	box, err := cryptobox.Derive(key[:], in.Salt)
	if err != nil {
		peer.transition(StateAuthenticating, StateClosed)
		return err
	}

	peer.AccountID = claims.AccountID
	peer.AccountName = claims.AccountName
	peer.box = box

	if !peer.transition(StateAuthenticating, StateEstablished) {
		// Someone else (e.g. a concurrent Close) moved us out from under
		// this handshake; treat it as a failure rather than silently
		// leaving peer.box set while not Established.
		return ErrInvalidState
	}

	return nil
}

// Close transitions peer to StateClosed from any state, idempotently.
func (p *Peer) Close() {
	for {
		cur := p.State()
		if cur == StateClosed {
			return
		}
		if p.transition(cur, StateClosed) {
			return
		}
	}
}
