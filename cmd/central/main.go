// Command central runs the auth-issuance service: the three C6 endpoints
// (/challenge/new, /challenge/verify, /totplogin), the admin status
// websocket, and the periodic status-snapshot writer. Grounded on
// cmd/server/main.go's startup shape (flag parsing, mux assembly, signal-
// driven graceful shutdown, optional certmagic HTTPS), retargeted from a
// PaaS dashboard to this auth surface.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/globed-relay/core/internal/audit"
	"github.com/globed-relay/core/internal/authkey"
	"github.com/globed-relay/core/internal/challenge"
	"github.com/globed-relay/core/internal/config"
	"github.com/globed-relay/core/internal/gdapi"
	"github.com/globed-relay/core/internal/httptls"
	"github.com/globed-relay/core/internal/ratelimit"
	"github.com/globed-relay/core/internal/sessiontoken"
	"github.com/globed-relay/core/internal/statusreport"
	"github.com/globed-relay/core/internal/userlist"
	"github.com/globed-relay/core/internal/webadmin"
	"github.com/globed-relay/core/internal/webauth"
)

var (
	configPath = flag.String("config", "config.json", "path to the central service's JSON config")
	dbPath     = flag.String("db", "central.db", "path to the sqlite audit database")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadGlobal(*configPath)
	if err != nil {
		log.Fatalf("central: loading config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("central: invalid config: %v", err)
	}
	for _, w := range config.Degraded(cfg) {
		log.Printf("central: warning: %s", w)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("central: opening audit database: %v", err)
	}
	defer db.Close()
	if err := audit.Init(db); err != nil {
		log.Fatalf("central: initializing audit schema: %v", err)
	}

	challenges := challenge.New(time.Duration(cfg.ChallengeExpiry) * time.Second)
	loginLimiter := ratelimit.NewIPLimiter(int(cfg.ChallengeRatelimit), time.Minute)
	gdBucket := ratelimit.NewCostBucket(cfg.GDAPIRatelimit, time.Duration(cfg.GDAPIPeriod)*time.Second)
	gdClient := gdapi.New(cfg.GDAPI)
	issuer := sessiontoken.NewIssuer([]byte(cfg.GameServerPassword), time.Duration(cfg.TokenExpiry)*time.Second)

	server := &webauth.Server{
		Config: func() webauth.Snapshot {
			live := config.Get()
			return webauth.Snapshot{
				Maintenance:          live.Maintenance,
				CloudflareProtection: live.CloudflareProtection,
				UseGDAPI:             live.UseGDAPI,
				ChallengeLevel:       live.ChallengeLevel,
				ChallengeExpiry:      time.Duration(live.ChallengeExpiry) * time.Second,
				ChallengeRatelimit:   int(live.ChallengeRatelimit),
				Secrets:              authkey.Secrets{Primary: []byte(live.SecretKey), Secondary: []byte(live.SecretKey2)},
				UserlistMode:         live.UserlistMode,
				UserlistIDs:          userlist.ToSet(live.Userlist),
			}
		},
		Challenges:       challenges,
		LoginLimiter:     loginLimiter,
		GDBucket:         gdBucket,
		GDClient:         gdClient,
		Issuer:           issuer,
		RequireUserAgent: true,
	}

	started := time.Now()
	var relayPeers atomicCounter
	source := statusSource{
		challenges:   challenges,
		loginLimiter: loginLimiter,
		gdBucket:     gdBucket,
		relayPeers:   &relayPeers,
	}
	broadcaster := statusreport.NewBroadcaster()

	mux := http.NewServeMux()
	mountRoutes(mux, cfg.WebMountpoint, server, source, started, broadcaster)

	reporter := statusreport.NewReporter(source, started, time.Duration(cfg.StatusPrintInterval)*time.Second, func(snap statusreport.Snapshot) {
		if data, err := snap.MarshalYAML(); err == nil {
			log.Printf("central: status\n%s", data)
		}
		broadcaster.Broadcast(snap)
	})
	stopReporter := make(chan struct{})
	go reporter.Run(stopReporter)
	defer close(stopReporter)

	sweepStop := make(chan struct{})
	go sweepLoop(challenges, loginLimiter, sweepStop)
	defer close(sweepStop)

	srv := &http.Server{
		Addr:         cfg.WebAddress,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("central: listening on %s (mountpoint %s)", cfg.WebAddress, cfg.WebMountpoint)
		var err error
		if cfg.TLSDomain != "" {
			err = httptls.Serve(cfg.TLSDomain, cfg.WebAddress, mux)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("central: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("central: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("central: forced shutdown: %v", err)
	}
}

// mountRoutes registers the C6 endpoints and the admin status websocket.
// The admin feed seeds each new connection with a snapshot built on the
// spot, then forwards whatever the reporter broadcasts afterward, so a
// client sees data immediately on connect and once per
// status_print_interval thereafter.
func mountRoutes(mux *http.ServeMux, mountpoint string, server *webauth.Server, source statusSource, started time.Time, broadcaster *statusreport.Broadcaster) {
	prefix := mountpoint
	if prefix == "" {
		prefix = "/"
	}

	join := func(p string) string {
		if prefix == "/" {
			return p
		}
		return prefix + p
	}

	mux.HandleFunc(join("/challenge/new"), server.ChallengeNew)
	mux.HandleFunc(join("/challenge/verify"), server.ChallengeVerify)
	mux.HandleFunc(join("/totplogin"), server.TOTPLogin)

	admin := &webadmin.Handler{
		AdminKey: func() string { return config.Get().AdminKey },
		Feed: func(stop <-chan struct{}) <-chan statusreport.Snapshot {
			current := statusreport.Build(source, started, time.Now())
			ch := broadcaster.Subscribe(current)
			go func() {
				<-stop
				broadcaster.Unsubscribe(ch)
			}()
			return ch
		},
	}
	mux.Handle(join("/admin/status"), admin)
}

func sweepLoop(challenges *challenge.Store, limiter *ratelimit.IPLimiter, stop <-chan struct{}) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			challenges.Sweep(now)
			limiter.Sweep(now)
		}
	}
}

// atomicCounter is a tiny placeholder for the relay-established-peer count
// until cmd/relay reports over a shared channel; central has no relay
// connections of its own.
type atomicCounter struct {
	mu  sync.Mutex
	val int
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

func (c *atomicCounter) set(n int) {
	c.mu.Lock()
	c.val = n
	c.mu.Unlock()
}

type statusSource struct {
	challenges   *challenge.Store
	loginLimiter *ratelimit.IPLimiter
	gdBucket     *ratelimit.CostBucket
	relayPeers   *atomicCounter
}

func (s statusSource) ActiveChallenges() int {
	return s.challenges.Len()
}

func (s statusSource) RateLimitedIPs() int {
	return s.loginLimiter.Saturated()
}

func (s statusSource) GDAPITokensAvailable() float64 {
	return s.gdBucket.Tokens()
}

func (s statusSource) RelayEstablishedPeers() int {
	return s.relayPeers.get()
}
