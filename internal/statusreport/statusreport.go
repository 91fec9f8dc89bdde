// Package statusreport produces the periodic operational snapshot the
// central service logs/serves every status_print_interval seconds,
// grounded on the teacher's use of gopkg.in/yaml.v3 for human-readable
// structured dumps.
package statusreport

import (
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is one point-in-time operational summary.
type Snapshot struct {
	Timestamp             time.Time `yaml:"timestamp"`
	UptimeSeconds         int64     `yaml:"uptime_seconds"`
	ActiveChallenges      int       `yaml:"active_challenges"`
	RateLimitedIPs        int       `yaml:"rate_limited_ips"`
	GDAPITokensAvailable  float64   `yaml:"gd_api_tokens_available"`
	RelayEstablishedPeers int       `yaml:"relay_established_peers"`
}

// Source supplies the live values a Snapshot is built from. Each method
// must be safe to call concurrently with the rest of the service.
type Source interface {
	ActiveChallenges() int
	RateLimitedIPs() int
	GDAPITokensAvailable() float64
	RelayEstablishedPeers() int
}

// Build assembles a Snapshot from src, with uptime measured from started.
func Build(src Source, started, now time.Time) Snapshot {
	return Snapshot{
		Timestamp:             now,
		UptimeSeconds:         int64(now.Sub(started).Seconds()),
		ActiveChallenges:      src.ActiveChallenges(),
		RateLimitedIPs:        src.RateLimitedIPs(),
		GDAPITokensAvailable:  src.GDAPITokensAvailable(),
		RelayEstablishedPeers: src.RelayEstablishedPeers(),
	}
}

// MarshalYAML renders the snapshot as YAML, for status-log lines and the
// admin websocket stream.
func (s Snapshot) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// Reporter runs Build on a ticker and delivers each Snapshot to Emit.
type Reporter struct {
	src     Source
	started time.Time
	period  time.Duration
	Emit    func(Snapshot)
}

// NewReporter creates a Reporter that builds a Snapshot from src every
// period, starting uptime accounting at started.
func NewReporter(src Source, started time.Time, period time.Duration, emit func(Snapshot)) *Reporter {
	return &Reporter{src: src, started: started, period: period, Emit: emit}
}

// Run blocks, emitting snapshots until stop is closed.
func (r *Reporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.Emit(Build(r.src, r.started, now))
		}
	}
}

// Broadcaster fans one stream of Snapshots out to any number of
// subscribers (one per open admin websocket), grounded on the teacher's
// internal/handlers.LogStreamManager subscribe/unsubscribe/broadcast
// shape, generalized from per-site log channels to a single status feed.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Snapshot]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Snapshot]struct{})}
}

// Subscribe registers a new channel and seeds it with current, so a newly
// connected admin client sees a snapshot immediately rather than waiting
// for the next tick.
func (b *Broadcaster) Subscribe(current Snapshot) chan Snapshot {
	ch := make(chan Snapshot, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	ch <- current
	return ch
}

// Unsubscribe removes and closes ch. Callers must not send on or read from
// ch afterward.
func (b *Broadcaster) Unsubscribe(ch chan Snapshot) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Broadcast delivers snap to every current subscriber. A subscriber that
// hasn't drained its previous snapshot yet is skipped rather than blocked
// on, the same non-blocking-send trade-off the teacher's Broadcast makes.
func (b *Broadcaster) Broadcast(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
