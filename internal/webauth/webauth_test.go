package webauth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/globed-relay/core/internal/authkey"
	"github.com/globed-relay/core/internal/challenge"
	"github.com/globed-relay/core/internal/gdapi"
	"github.com/globed-relay/core/internal/ratelimit"
	"github.com/globed-relay/core/internal/sessiontoken"
	"github.com/globed-relay/core/internal/userlist"
)

func testSecrets() authkey.Secrets {
	return authkey.Secrets{Primary: []byte("primary"), Secondary: []byte("secondary")}
}

func newTestServer(snap Snapshot) *Server {
	return &Server{
		Config:           func() Snapshot { return snap },
		Challenges:       challenge.New(snap.ChallengeExpiry),
		LoginLimiter:     ratelimit.NewIPLimiter(60, time.Minute),
		GDBucket:         ratelimit.NewCostBucket(5, 5*time.Second),
		GDClient:         gdapi.New("http://unused"),
		Issuer:           sessiontoken.NewIssuer([]byte("game-server-password"), 24*time.Hour),
		RequireUserAgent: false,
	}
}

func baseSnapshot() Snapshot {
	return Snapshot{
		ChallengeExpiry:    30 * time.Second,
		ChallengeRatelimit: 60,
		Secrets:            testSecrets(),
		UserlistMode:       userlist.ModeNone,
	}
}

func newRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "203.0.113.5:12345"
	return r
}

func TestChallengeNewIssuesChallenge(t *testing.T) {
	s := newTestServer(baseSnapshot())
	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String()[:5] != "none:" {
		t.Fatalf("expected a none-prefixed body (use_gd_api=false), got %q", w.Body.String())
	}
}

func TestChallengeNewReportsLevelWhenGDAPIEnabled(t *testing.T) {
	snap := baseSnapshot()
	snap.UseGDAPI = true
	snap.ChallengeLevel = 42

	s := newTestServer(snap)
	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String()[:3] != "42:" {
		t.Fatalf("expected challenge level prefix, got %q", w.Body.String())
	}
}

func TestChallengeNewMaintenanceGate(t *testing.T) {
	snap := baseSnapshot()
	snap.Maintenance = true
	s := newTestServer(snap)

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 503 {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestChallengeNewRejectsBlacklistedAccount(t *testing.T) {
	snap := baseSnapshot()
	snap.UserlistMode = userlist.ModeBlacklist
	snap.UserlistIDs = userlist.ToSet([]int32{100})
	s := newTestServer(snap)

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestChallengeNewRequiresUserAgentWhenEnforced(t *testing.T) {
	s := newTestServer(baseSnapshot())
	s.RequireUserAgent = true

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 401 {
		t.Fatalf("expected 401 for a missing user agent, got %d", w.Code)
	}
}

func TestChallengeVerifyFastPath(t *testing.T) {
	snap := baseSnapshot()
	s := newTestServer(snap)

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))
	challengeValue := w.Body.String()[len("none:"):]

	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	answer := authkey.Code([]byte(challengeValue), now.Unix())

	w2 := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=playerone&answer="+answer)
	s.ChallengeVerify(w2, req)

	if w2.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
	if w2.Body.String()[:5] != "none:" {
		t.Fatalf("expected none-prefixed authkey body, got %q", w2.Body.String())
	}

	decoded, err := base64.StdEncoding.DecodeString(w2.Body.String()[5:])
	if err != nil || len(decoded) != authkey.Size {
		t.Fatalf("expected a valid base64 authkey, got %q (%v)", w2.Body.String(), err)
	}
}

func TestChallengeVerifyRejectsWrongAnswer(t *testing.T) {
	s := newTestServer(baseSnapshot())

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	w2 := httptest.NewRecorder()
	s.ChallengeVerify(w2, newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=playerone&answer=000000"))

	if w2.Code != 401 {
		t.Fatalf("expected 401, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestChallengeNewRejectsOffWhitelistAccount(t *testing.T) {
	snap := baseSnapshot()
	snap.UserlistMode = userlist.ModeWhitelist
	snap.UserlistIDs = userlist.ToSet([]int32{999})
	s := newTestServer(snap)

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))

	if w.Code != 403 {
		t.Fatalf("expected 403 for an account not on the whitelist, got %d", w.Code)
	}
}

// challenge_finish (ChallengeVerify) deliberately does not re-check the
// userlist: only challenge_start and totp_login gate on it, matching
// auth.rs's challenge_finish, which never calls should_block. A client
// that already holds a live challenge already passed that gate once.
func TestTOTPLoginRejectsOffWhitelistAccount(t *testing.T) {
	snap := baseSnapshot()
	snap.UserlistMode = userlist.ModeWhitelist
	snap.UserlistIDs = userlist.ToSet([]int32{999})
	s := newTestServer(snap)

	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	key, err := authkey.Derive(snap.Secrets, 100, "playerone")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	code := authkey.Code(key[:], now.Unix())

	req := newRequest(http.MethodGet, "/totplogin?aid=100&aname=playerone&code="+code)
	w := httptest.NewRecorder()
	s.TOTPLogin(w, req)

	if w.Code != 403 {
		t.Fatalf("expected 403 for an account not on the whitelist, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChallengeVerifyRejectsMismatchedAccountID(t *testing.T) {
	s := newTestServer(baseSnapshot())

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))
	challengeValue := w.Body.String()[len("none:"):]

	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }
	answer := authkey.Code([]byte(challengeValue), now.Unix())

	w2 := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/challenge/verify?aid=200&aname=playerone&answer="+answer)
	s.ChallengeVerify(w2, req)

	if w2.Code != 401 {
		t.Fatalf("expected 401 for a challenge belonging to a different account, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestChallengeVerifyConsumesChallengeOnSuccess(t *testing.T) {
	s := newTestServer(baseSnapshot())

	w := httptest.NewRecorder()
	s.ChallengeNew(w, newRequest(http.MethodGet, "/challenge/new?aid=100"))
	challengeValue := w.Body.String()[len("none:"):]

	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }
	answer := authkey.Code([]byte(challengeValue), now.Unix())

	first := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=playerone&answer="+answer)
	s.ChallengeVerify(first, req)
	if first.Code != 200 {
		t.Fatalf("expected the first verify to succeed, got %d: %s", first.Code, first.Body.String())
	}

	second := httptest.NewRecorder()
	s.ChallengeVerify(second, newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=playerone&answer="+answer))
	if second.Code != 403 {
		t.Fatalf("expected the second verify against a consumed challenge to be rejected with 403, got %d: %s", second.Code, second.Body.String())
	}
}

func TestChallengeVerifyRejectsAbsentChallenge(t *testing.T) {
	s := newTestServer(baseSnapshot())

	w := httptest.NewRecorder()
	s.ChallengeVerify(w, newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=playerone&answer=123456"))

	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestChallengeVerifyRejectsClockSkew(t *testing.T) {
	s := newTestServer(baseSnapshot())
	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	badSystime := strconv.FormatInt(now.Unix()-100, 10)
	req := newRequest(http.MethodGet, "/challenge/verify?aid=100&aname=p&answer=123456&systime="+badSystime)

	w := httptest.NewRecorder()
	s.ChallengeVerify(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400 for clock skew, got %d", w.Code)
	}
}

func TestTOTPLoginRoundTrip(t *testing.T) {
	snap := baseSnapshot()
	s := newTestServer(snap)

	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	key, err := authkey.Derive(snap.Secrets, 100, "playerone")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	code := authkey.Code(key[:], now.Unix())

	req := newRequest(http.MethodGet, "/totplogin?aid=100&aname=playerone&code="+code)
	w := httptest.NewRecorder()
	s.TOTPLogin(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	claims, err := s.Issuer.Verify(w.Body.String(), now)
	if err != nil {
		t.Fatalf("expected a valid token, got error: %v", err)
	}
	if claims.AccountID != 100 || claims.AccountName != "playerone" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTOTPLoginRejectsWrongCode(t *testing.T) {
	s := newTestServer(baseSnapshot())

	req := newRequest(http.MethodGet, "/totplogin?aid=100&aname=playerone&code=000000")
	w := httptest.NewRecorder()
	s.TOTPLogin(w, req)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
