// Command relay runs one game-relay node: it accepts TCP connections
// behind a hardened, per-IP-limited listener, runs the C7 session
// handshake against each new peer, and then serves gameplay traffic over
// the established cryptobox. Grounded on cmd/server/main.go's startup
// shape (flag parsing, signal-driven graceful shutdown), retargeted from
// an HTTP dashboard to a raw TCP accept loop.
package main

import (
	"context"
	"database/sql"
	"flag"
	"io"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/globed-relay/core/internal/audit"
	"github.com/globed-relay/core/internal/authkey"
	"github.com/globed-relay/core/internal/config"
	"github.com/globed-relay/core/internal/listener"
	"github.com/globed-relay/core/internal/relaysession"
	"github.com/globed-relay/core/internal/sessiontoken"
	"github.com/globed-relay/core/internal/userlist"
)

var (
	configPath = flag.String("config", "config.json", "path to the shared auth config (secret_key, secret_key2, game_server_password, userlist)")
	listenAddr = flag.String("addr", "0.0.0.0:41001", "address this relay node accepts player connections on")
	dbPath     = flag.String("db", "relay.db", "path to this node's sqlite audit database")
)

// handshakeTimeout bounds how long a newly accepted connection has to
// complete the C7 handshake before the relay drops it.
const handshakeTimeout = 5 * time.Second

// packetRatePerSecond/packetBurst bound sustained and bursty gameplay
// packet rates per established peer, independent of anything the central
// service enforces.
const (
	packetRatePerSecond = 120.0
	packetBurst         = 60
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("relay: loading config: %v", err)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("relay: opening audit database: %v", err)
	}
	defer db.Close()
	if err := audit.Init(db); err != nil {
		log.Fatalf("relay: initializing audit schema: %v", err)
	}

	secrets := authkey.Secrets{Primary: []byte(cfg.SecretKey), Secondary: []byte(cfg.SecretKey2)}
	issuer := sessiontoken.NewIssuer([]byte(cfg.GameServerPassword), time.Duration(cfg.TokenExpiry)*time.Second)
	userlistIDs := userlist.ToSet(cfg.Userlist)

	raw, err := listener.ListenRelay("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("relay: listening on %s: %v", *listenAddr, err)
	}

	limited := listener.NewConnLimiter(raw, listener.ConnLimiterConfig{
		MaxConnsPerIP: 8,
		MaxTotalConns: 20000,
		OnReject:      listener.LoggingOnReject,
	})

	var peers peerSet

	ctx, cancel := context.WithCancel(context.Background())
	go acceptLoop(ctx, limited, secrets, issuer, cfg.UserlistMode, userlistIDs, &peers)

	log.Printf("relay: accepting connections on %s", *listenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("relay: shutting down")
	cancel()
	limited.Close()
}

func acceptLoop(
	ctx context.Context,
	l net.Listener,
	secrets authkey.Secrets,
	issuer *sessiontoken.Issuer,
	mode userlist.Mode,
	userlistIDs map[int32]struct{},
	peers *peerSet,
) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("relay: accept error: %v", err)
				continue
			}
		}

		go handleConn(conn, secrets, issuer, mode, userlistIDs, peers)
	}
}

func handleConn(
	conn net.Conn,
	secrets authkey.Secrets,
	issuer *sessiontoken.Issuer,
	mode userlist.Mode,
	userlistIDs map[int32]struct{},
	peers *peerSet,
) {
	defer conn.Close()

	// connID correlates this connection's log lines across the handshake
	// and gameplay loop without leaking the account identity before
	// authentication succeeds.
	connID := uuid.New().String()

	remote, err := remoteAddr(conn)
	if err != nil {
		log.Printf("relay: conn=%s rejecting connection with unparseable address: %v", connID, err)
		return
	}

	peer := relaysession.NewPeer(remote, packetRatePerSecond, packetBurst)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	token, salt, err := readHandshakeFrame(conn)
	if err != nil {
		log.Printf("relay: conn=%s %s: handshake frame: %v", connID, remote, err)
		return
	}

	err = relaysession.Authenticate(peer, issuer, relaysession.HandshakeInput{
		Token:        token,
		Secrets:      secrets,
		Salt:         salt,
		UserlistMode: mode,
		UserlistIDs:  userlistIDs,
	}, time.Now())
	if err != nil {
		log.Printf("relay: conn=%s %s: handshake failed: %v", connID, remote, err)
		audit.Log(audit.KindRelayHandshake, 0, "", remote.String(), audit.ResultFailure, err.Error())
		return
	}
	conn.SetReadDeadline(time.Time{})
	audit.Log(audit.KindRelayHandshake, peer.AccountID, peer.AccountName, remote.String(), audit.ResultSuccess, "")

	peers.add(peer)
	defer peers.remove(peer)
	defer peer.Close()

	log.Printf("relay: conn=%s %s authenticated as account %d (%s)", connID, remote, peer.AccountID, peer.AccountName)

	servePeer(conn, peer)
}

// readHandshakeFrame reads the client's session token and per-connection
// salt: a 2-byte big-endian token length, the token bytes, then a fixed
// 16-byte salt used to derive this connection's cryptobox key.
func readHandshakeFrame(conn net.Conn) (token string, salt []byte, err error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return "", nil, err
	}
	tokenLen := int(lenBuf[0])<<8 | int(lenBuf[1])

	tokenBuf, err := relaysession.ReadFrame(conn, tokenLen)
	if err != nil {
		return "", nil, err
	}

	salt = make([]byte, 16)
	if _, err := io.ReadFull(conn, salt); err != nil {
		return "", nil, err
	}

	return string(tokenBuf), salt, nil
}

// pingKind is the only gameplay packet kind this layer recognizes itself,
// a keepalive that costs the peer nothing but its rate-limit budget. Any
// other kind is a stand-in for real gameplay packet dispatch, which lives
// above the handshake layer.
const pingKind = relaysession.PacketKind(0)

var gameplayHandlers = map[relaysession.PacketKind]func([]byte) error{
	pingKind: func([]byte) error { return nil },
}

// servePeer runs the established peer's gameplay packet loop:
// length-prefixed sealed boxes, per-peer rate enforcement, decryption, and
// dispatch by the 2-byte packet kind prefix of the recovered plaintext.
func servePeer(conn net.Conn, peer *relaysession.Peer) {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		size := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])

		box, err := relaysession.ReadFrame(conn, size)
		if err != nil {
			log.Printf("relay: %s: %v", peer.RemoteAddr, err)
			return
		}

		if err := peer.CheckRate(); err != nil {
			log.Printf("relay: %s: %v", peer.RemoteAddr, err)
			return
		}

		plaintext, err := peer.Decrypt(box)
		if err != nil {
			log.Printf("relay: %s: %v", peer.RemoteAddr, err)
			return
		}

		if len(plaintext) < 2 {
			log.Printf("relay: %s: %v", peer.RemoteAddr, relaysession.ErrMalformedMessage)
			return
		}
		kind := relaysession.PacketKind(uint16(plaintext[0])<<8 | uint16(plaintext[1]))
		if err := relaysession.Dispatch(kind, plaintext[2:], gameplayHandlers); err != nil {
			log.Printf("relay: %s: %v", peer.RemoteAddr, err)
			return
		}
	}
}

func remoteAddr(conn net.Conn) (netip.Addr, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	return netip.ParseAddr(host)
}

// peerSet tracks established peers for the relay's own bookkeeping (e.g. a
// future admin surface); central's statusreport.RelayEstablishedPeers is
// populated independently per-node rather than through this set.
type peerSet struct {
	mu    sync.Mutex
	peers map[*relaysession.Peer]struct{}
}

func (s *peerSet) add(p *relaysession.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers == nil {
		s.peers = make(map[*relaysession.Peer]struct{})
	}
	s.peers[p] = struct{}{}
}

func (s *peerSet) remove(p *relaysession.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
}

func (s *peerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
