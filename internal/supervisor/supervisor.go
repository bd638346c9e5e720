// Package supervisor discovers command queues from the database
// registry and starts, stops and reconciles one runner per queue.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigsmoke/pg_cmdqd/internal/queue"
	"github.com/bigsmoke/pg_cmdqd/internal/runner"
)

const (
	registryChannel     = "cmdq"
	registryQuery       = `SELECT cmd_class_identity, cmd_class_relname, cmd_signature_class_relname, queue_runner_role, queue_notify_channel, reselect_interval_msec, reselect_randomized_every_nth, cmd_timeout_sec, ansi_fg FROM cmd_queue_registry`
	reconnectBackoffCap = 60 * time.Second
	notifyBufferSize    = 8
)

// Metrics is the supervisor-level observation surface.
type Metrics interface {
	SetQueuesActive(n int)
}

type noopMetrics struct{}

func (noopMetrics) SetQueuesActive(int) {}

// Alerter notifies an operator about a runner-fatal error. It is
// satisfied by internal/email.Sender.
type Alerter interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config configures the Supervisor.
type Config struct {
	ConnString string
	// AllowList restricts discovery to these identities. Empty means
	// "every queue in the registry" (spec §4.6 step 2).
	AllowList            []string
	EmitSIGUSR1WhenReady bool
	AlertTo              string
	Logger               *slog.Logger
	Metrics              Metrics
	RunnerMetrics        runner.Metrics
	Alerter              Alerter
}

type runnerHandle struct {
	r      *runner.Runner
	cancel context.CancelFunc
	desc   queue.Descriptor
}

// Supervisor owns the set of running runners, keyed by queue identity.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	runners map[string]*runnerHandle
	alerted map[string]bool
	wg      sync.WaitGroup

	ready     atomic.Bool
	readyOnce sync.Once
}

// Ready reports whether the supervisor has completed at least one
// registry read (spec §6's GET /readyz contract).
func (s *Supervisor) Ready() bool {
	return s.ready.Load()
}

func New(cfg Config) *Supervisor {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "supervisor"),
		runners: make(map[string]*runnerHandle),
		alerted: make(map[string]bool),
	}
}

// Run connects, discovers the registry, reconciles runners against it,
// and keeps listening for registry changes until ctx is cancelled
// (spec §4.6).
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			s.stopAll()
			s.wg.Wait()
			return nil
		}

		conn, notifyCh, err := s.connect(ctx)
		if err != nil {
			s.logger.Error("registry connect failed", "error", err)
			if !s.sleepBackoff(ctx, &backoff) {
				s.stopAll()
				s.wg.Wait()
				return nil
			}
			continue
		}
		backoff = time.Second

		if err := s.reconcile(ctx, conn); err != nil {
			s.logger.Error("initial registry read failed", "error", err)
		} else {
			s.signalReadyOnce()
		}

		listenErr := s.listenLoop(ctx, conn, notifyCh)
		_ = conn.Close(context.Background())

		if ctx.Err() != nil {
			s.stopAll()
			s.wg.Wait()
			return nil
		}
		s.logger.Warn("registry connection lost, reconnecting", "error", listenErr)
		if !s.sleepBackoff(ctx, &backoff) {
			s.stopAll()
			s.wg.Wait()
			return nil
		}
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > reconnectBackoffCap {
		*backoff = reconnectBackoffCap
	}
	return true
}

func (s *Supervisor) connect(ctx context.Context) (*pgx.Conn, chan *pgconn.Notification, error) {
	pgCfg, err := pgx.ParseConfig(s.cfg.ConnString)
	if err != nil {
		return nil, nil, fmt.Errorf("parse connection string: %w", err)
	}
	notifyCh := make(chan *pgconn.Notification, notifyBufferSize)
	pgCfg.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		select {
		case notifyCh <- n:
		default:
			s.logger.Warn("dropped registry notification, buffer full")
		}
	}
	conn, err := pgx.ConnectConfig(ctx, pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+(pgx.Identifier{registryChannel}).Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, nil, fmt.Errorf("listen %s: %w", registryChannel, err)
	}
	return conn, notifyCh, nil
}

// listenLoop blocks, reconciling on every registry notification, until
// ctx is cancelled or the connection is lost.
func (s *Supervisor) listenLoop(ctx context.Context, conn *pgx.Conn, notifyCh chan *pgconn.Notification) error {
	for {
		err := conn.PgConn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case n := <-notifyCh:
			s.logger.Debug("registry event", "channel", n.Channel, "payload", n.Payload)
		default:
		}
		if err := s.reconcile(ctx, conn); err != nil {
			s.logger.Error("registry reconcile failed", "error", err)
		}
	}
}

// reconcile reads the registry, starts runners for new descriptors,
// and stops runners for descriptors that disappeared (spec §4.6 steps
// 2-3; mutation of an existing identity is treated as drop+add per the
// Design Notes' open question).
func (s *Supervisor) reconcile(ctx context.Context, conn *pgx.Conn) error {
	rows, err := conn.Query(ctx, registryQuery)
	if err != nil {
		return fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]queue.Descriptor)
	for rows.Next() {
		desc, err := queue.DecodeDescriptor(rows)
		if err != nil {
			s.logger.Error("skipping invalid registry row", "error", err)
			continue
		}
		if !s.allowed(desc.CmdClassIdentity) {
			continue
		}
		seen[desc.CmdClassIdentity] = desc
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for identity, desc := range seen {
		h, exists := s.runners[identity]
		if exists && h.desc != desc {
			s.logger.Info("queue changed in registry, restarting runner", "queue", identity)
			h.cancel()
			delete(s.runners, identity)
			exists = false
		}
		if !exists {
			s.startRunnerLocked(ctx, desc)
		}
	}
	for identity, h := range s.runners {
		if _, stillPresent := seen[identity]; !stillPresent {
			s.logger.Info("queue removed from registry, stopping runner", "queue", identity)
			h.cancel()
			delete(s.runners, identity)
		}
	}
	s.cfg.Metrics.SetQueuesActive(len(s.runners))
	return nil
}

func (s *Supervisor) allowed(identity string) bool {
	if len(s.cfg.AllowList) == 0 {
		return true
	}
	for _, a := range s.cfg.AllowList {
		if a == identity {
			return true
		}
	}
	return false
}

// startRunnerLocked must be called with s.mu held.
func (s *Supervisor) startRunnerLocked(parentCtx context.Context, desc queue.Descriptor) {
	runnerCtx, cancel := context.WithCancel(parentCtx)
	r := runner.New(runner.Config{
		ConnString: s.cfg.ConnString,
		Descriptor: desc,
		Logger:     s.logger,
		Metrics:    s.cfg.RunnerMetrics,
	})
	s.runners[desc.CmdClassIdentity] = &runnerHandle{r: r, cancel: cancel, desc: desc}

	s.logger.Info("starting runner", "queue", desc.CmdClassIdentity, "signature", desc.SignatureClass)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := r.Run(runnerCtx)
		var fatal *runner.FatalError
		if errors.As(err, &fatal) {
			s.handleRunnerFatal(fatal)
		}
	}()
}

func (s *Supervisor) handleRunnerFatal(fatal *runner.FatalError) {
	s.logger.Error("runner exited fatally", "queue", fatal.Identity, "error", fatal.Err)

	s.mu.Lock()
	already := s.alerted[fatal.Identity]
	s.alerted[fatal.Identity] = true
	s.mu.Unlock()

	if already || s.cfg.Alerter == nil || s.cfg.AlertTo == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	subject := fmt.Sprintf("pg_cmdqd: runner %q stopped", fatal.Identity)
	body := fmt.Sprintf("Runner for queue %q exited with a fatal error and will not be retried:\n\n%v", fatal.Identity, fatal.Err)
	if err := s.cfg.Alerter.Send(ctx, s.cfg.AlertTo, subject, body); err != nil {
		s.logger.Error("failed to send runner-fatal alert", "error", err)
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, h := range s.runners {
		h.cancel()
		delete(s.runners, identity)
	}
}

func (s *Supervisor) signalReadyOnce() {
	s.ready.Store(true)
	if !s.cfg.EmitSIGUSR1WhenReady {
		return
	}
	s.readyOnce.Do(func() {
		ppid := os.Getppid()
		if err := syscall.Kill(ppid, syscall.SIGUSR1); err != nil {
			s.logger.Warn("failed to signal readiness to parent process", "ppid", ppid, "error", err)
			return
		}
		s.logger.Info("emitted SIGUSR1 to parent process", "ppid", ppid)
	})
}

// Statuses returns a snapshot of every active runner, for the admin
// surface's GET /queues.
func (s *Supervisor) Statuses() []runner.RunnerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]runner.RunnerStatus, 0, len(s.runners))
	for _, h := range s.runners {
		out = append(out, h.r.Status())
	}
	return out
}

// Status returns one runner's snapshot, or false if identity is not
// currently active.
func (s *Supervisor) Status(identity string) (runner.RunnerStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runners[identity]
	if !ok {
		return runner.RunnerStatus{}, false
	}
	return h.r.Status(), true
}

// Pause and Resume implement the admin surface's pause/resume endpoints.
func (s *Supervisor) Pause(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runners[identity]
	if !ok {
		return false
	}
	h.r.Pause()
	return true
}

func (s *Supervisor) Resume(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runners[identity]
	if !ok {
		return false
	}
	h.r.Resume()
	return true
}
