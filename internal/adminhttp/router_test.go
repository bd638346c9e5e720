package adminhttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigsmoke/pg_cmdqd/internal/adminhttp"
	"github.com/bigsmoke/pg_cmdqd/internal/health"
	"github.com/bigsmoke/pg_cmdqd/internal/runner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSupervisor struct {
	statuses map[string]runner.RunnerStatus
	paused   map[string]bool
	ready    bool
}

func (s *fakeSupervisor) Ready() bool { return s.ready }

func (s *fakeSupervisor) Statuses() []runner.RunnerStatus {
	out := make([]runner.RunnerStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out
}

func (s *fakeSupervisor) Status(identity string) (runner.RunnerStatus, bool) {
	st, ok := s.statuses[identity]
	return st, ok
}

func (s *fakeSupervisor) Pause(identity string) bool {
	if _, ok := s.statuses[identity]; !ok {
		return false
	}
	s.paused[identity] = true
	return true
}

func (s *fakeSupervisor) Resume(identity string) bool {
	if _, ok := s.statuses[identity]; !ok {
		return false
	}
	s.paused[identity] = false
	return true
}

func newTestRouter(jwtSecret []byte) (*gin.Engine, *fakeSupervisor) {
	sup := &fakeSupervisor{
		statuses: map[string]runner.RunnerStatus{
			"orders.cmd_queue": {Identity: "orders.cmd_queue", Phase: runner.PhaseWaiting},
		},
		paused: map[string]bool{},
	}
	checker := health.NewChecker(fakePinger{}, discardLogger(), newRegistry())
	return adminhttp.NewRouter(discardLogger(), sup, checker, jwtSecret), sup
}

func TestListQueues(t *testing.T) {
	r, _ := newTestRouter(nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/queues", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Queues []runner.RunnerStatus `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Queues) != 1 {
		t.Fatalf("expected 1 queue, got %d", len(body.Queues))
	}
}

func TestGetQueueUnknown(t *testing.T) {
	r, _ := newTestRouter(nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/queues/does-not-exist", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPauseRequiresAuth(t *testing.T) {
	r, sup := newTestRouter([]byte("admin-test-secret-32-characters!"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/queues/orders.cmd_queue/pause", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if sup.paused["orders.cmd_queue"] {
		t.Fatal("expected pause to be rejected without a token")
	}
}

func TestPauseRejectedWhenNoSecretConfigured(t *testing.T) {
	r, sup := newTestRouter(nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte(""))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/queues/orders.cmd_queue/pause", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if sup.paused["orders.cmd_queue"] {
		t.Fatal("expected pause to be rejected with no secret configured")
	}
}

func TestPauseSucceedsWithValidToken(t *testing.T) {
	secret := []byte("admin-test-secret-32-characters!")
	r, sup := newTestRouter(secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/queues/orders.cmd_queue/pause", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if !sup.paused["orders.cmd_queue"] {
		t.Fatal("expected queue to be paused")
	}
}

func TestLivenessReportsDownOnPingFailure(t *testing.T) {
	sup := &fakeSupervisor{statuses: map[string]runner.RunnerStatus{}, paused: map[string]bool{}}
	checker := health.NewChecker(fakePinger{err: context.DeadlineExceeded}, discardLogger(), newRegistry())
	r := adminhttp.NewRouter(discardLogger(), sup, checker, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestReadinessBeforeFirstRegistryRead(t *testing.T) {
	r, _ := newTestRouter(nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestReadinessAfterFirstRegistryRead(t *testing.T) {
	r, sup := newTestRouter(nil)
	_ = r
	sup.ready = true
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
