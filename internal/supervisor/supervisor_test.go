package supervisor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bigsmoke/pg_cmdqd/internal/runner"
)

type fakeAlerter struct {
	sent []string
}

func (f *fakeAlerter) Send(_ context.Context, to, subject, _ string) error {
	f.sent = append(f.sent, to+": "+subject)
	return nil
}

func newTestSupervisor(alerter Alerter) *Supervisor {
	return New(Config{
		Logger:  slog.Default(),
		AlertTo: "ops@example.com",
		Alerter: alerter,
	})
}

func TestAllowedEmptyListAllowsEverything(t *testing.T) {
	s := New(Config{Logger: slog.Default()})
	if !s.allowed("anything") {
		t.Error("expected empty allow-list to allow any identity")
	}
}

func TestAllowedRestrictsToList(t *testing.T) {
	s := New(Config{Logger: slog.Default(), AllowList: []string{"orders.cmd_queue"}})
	if !s.allowed("orders.cmd_queue") {
		t.Error("expected listed identity to be allowed")
	}
	if s.allowed("other.cmd_queue") {
		t.Error("expected unlisted identity to be rejected")
	}
}

func TestHandleRunnerFatalAlertsOncePerIdentity(t *testing.T) {
	alerter := &fakeAlerter{}
	s := newTestSupervisor(alerter)

	s.handleRunnerFatal(&runner.FatalError{Identity: "orders.cmd_queue", Err: errFatal})
	s.handleRunnerFatal(&runner.FatalError{Identity: "orders.cmd_queue", Err: errFatal})

	if len(alerter.sent) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %v", len(alerter.sent), alerter.sent)
	}
}

func TestHandleRunnerFatalAlertsEachIdentitySeparately(t *testing.T) {
	alerter := &fakeAlerter{}
	s := newTestSupervisor(alerter)

	s.handleRunnerFatal(&runner.FatalError{Identity: "orders.cmd_queue", Err: errFatal})
	s.handleRunnerFatal(&runner.FatalError{Identity: "billing.cmd_queue", Err: errFatal})

	if len(alerter.sent) != 2 {
		t.Fatalf("expected two alerts, got %d: %v", len(alerter.sent), alerter.sent)
	}
}

func TestPauseResumeUnknownIdentity(t *testing.T) {
	s := New(Config{Logger: slog.Default()})
	if s.Pause("does-not-exist") {
		t.Error("expected Pause on unknown identity to return false")
	}
	if s.Resume("does-not-exist") {
		t.Error("expected Resume on unknown identity to return false")
	}
}

var errFatal = &testError{"runner_session_start failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
