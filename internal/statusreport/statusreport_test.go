package statusreport

import (
	"strings"
	"testing"
	"time"
)

type fakeSource struct{}

func (fakeSource) ActiveChallenges() int        { return 3 }
func (fakeSource) RateLimitedIPs() int          { return 2 }
func (fakeSource) GDAPITokensAvailable() float64 { return 4.5 }
func (fakeSource) RelayEstablishedPeers() int   { return 10 }

func TestBuildComputesUptime(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	now := time.Now()

	snap := Build(fakeSource{}, started, now)
	if snap.UptimeSeconds < 7190 || snap.UptimeSeconds > 7210 {
		t.Fatalf("expected ~7200s uptime, got %d", snap.UptimeSeconds)
	}
	if snap.ActiveChallenges != 3 || snap.RelayEstablishedPeers != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMarshalYAMLIncludesFields(t *testing.T) {
	snap := Build(fakeSource{}, time.Now(), time.Now())
	data, err := snap.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML: %v", err)
	}
	if !strings.Contains(string(data), "active_challenges: 3") {
		t.Fatalf("expected yaml to contain active_challenges, got %s", data)
	}
}

func TestBroadcasterSeedsSubscriberImmediately(t *testing.T) {
	b := NewBroadcaster()
	seed := Build(fakeSource{}, time.Now(), time.Now())

	ch := b.Subscribe(seed)
	defer b.Unsubscribe(ch)

	select {
	case s := <-ch:
		if s.ActiveChallenges != 3 {
			t.Fatalf("unexpected seeded snapshot: %+v", s)
		}
	default:
		t.Fatalf("expected Subscribe to seed the channel synchronously")
	}
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	seed := Build(fakeSource{}, time.Now(), time.Now())

	a := b.Subscribe(seed)
	c := b.Subscribe(seed)
	<-a
	<-c

	next := Build(fakeSource{}, time.Now(), time.Now().Add(time.Minute))
	b.Broadcast(next)

	select {
	case s := <-a:
		if s.UptimeSeconds != next.UptimeSeconds {
			t.Fatalf("subscriber a got unexpected snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber a never received the broadcast")
	}
	select {
	case s := <-c:
		if s.UptimeSeconds != next.UptimeSeconds {
			t.Fatalf("subscriber c got unexpected snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber c never received the broadcast")
	}

	b.Unsubscribe(a)
	b.Unsubscribe(c)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(Build(fakeSource{}, time.Now(), time.Now()))
	<-ch

	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatalf("expected the channel to be closed after Unsubscribe")
	}
}

func TestReporterEmitsOnSchedule(t *testing.T) {
	emitted := make(chan Snapshot, 1)
	r := NewReporter(fakeSource{}, time.Now(), 10*time.Millisecond, func(s Snapshot) {
		select {
		case emitted <- s:
		default:
		}
	})

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	select {
	case s := <-emitted:
		if s.ActiveChallenges != 3 {
			t.Fatalf("unexpected snapshot: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a snapshot to be emitted")
	}
}
