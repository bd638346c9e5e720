// Package runner implements the per-queue worker loop: connect, select
// the next runnable row, dispatch it to a process or SQL executor,
// write the result back, and wait for more work.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ctxlog "github.com/bigsmoke/pg_cmdqd/internal/log"
	"github.com/bigsmoke/pg_cmdqd/internal/pgcodec"
	"github.com/bigsmoke/pg_cmdqd/internal/queue"
)

const (
	stmtSelectOldest = "select_oldest_cmd"
	stmtSelectRandom = "select_random_cmd"
	stmtSelectNotify = "select_notify_cmd"
	stmtUpdateCmd    = "update_cmd"

	reconnectBackoffCap = 60 * time.Second
	notifyBufferSize    = 8
)

// Metrics is the narrow set of observations the runner reports. A nil
// Metrics is valid; Runner wraps it in a no-op implementation.
type Metrics interface {
	ObserveCommandDuration(queue, outcome string, seconds float64)
	IncCommandTimeout(queue string)
	IncReconnect(queue string)
	SetEmptyReselectStreak(queue string, n int)
	IncNotice(queue string)
	IncFatalError(queue string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommandDuration(string, string, float64) {}
func (noopMetrics) IncCommandTimeout(string)                       {}
func (noopMetrics) IncReconnect(string)                            {}
func (noopMetrics) SetEmptyReselectStreak(string, int)             {}
func (noopMetrics) IncNotice(string)                               {}
func (noopMetrics) IncFatalError(string)                           {}

// FatalError marks a runner-fatal condition (spec §7): the runner exits
// without retrying, and the supervisor observes it as stopped.
type FatalError struct {
	Identity string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("runner %q: fatal: %v", e.Identity, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Config configures one Runner instance.
type Config struct {
	ConnString string
	Descriptor queue.Descriptor
	// Env is passed to runner_session_start as the session's env_as_hstore.
	Env     map[string]string
	Logger  *slog.Logger
	Metrics Metrics
}

// Runner services exactly one queue: connect, prepare, select, execute,
// update, wait, repeat (spec §4.5).
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	procExec *queue.ProcessExecutor
	sqlExec  *queue.SQLExecutor

	paused atomic.Bool
	status *statusBox
}

// New builds a Runner for the given queue. It does not connect; call Run.
func New(cfg Config) *Runner {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	logger := cfg.Logger.With("queue", cfg.Descriptor.CmdClassIdentity, "thread", cfg.Descriptor.ThreadName())
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		procExec: queue.NewProcessExecutor(logger),
		sqlExec:  queue.NewSQLExecutor(logger),
		status:   newStatusBox(cfg.Descriptor.CmdClassIdentity),
	}
}

// Pause sets the admin-triggered pause flag (spec §4.5 [ADD]): the
// runner keeps answering its wait phase but stops claiming new rows.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.status.setPaused(true)
}

// Resume clears the pause flag.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.status.setPaused(false)
}

// Status returns a snapshot for the admin surface.
func (r *Runner) Status() RunnerStatus { return r.status.snapshot() }

// Run blocks until ctx is cancelled (clean shutdown, returns nil) or a
// runner-fatal error occurs (returns *FatalError). Connection loss is
// handled internally with exponential backoff, never returned.
func (r *Runner) Run(ctx context.Context) error {
	identity := r.cfg.Descriptor.CmdClassIdentity
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			r.status.setPhase(PhaseStopped)
			return nil
		}

		r.status.setPhase(PhaseConnecting)
		conn, sink, notifyCh, err := r.connect(ctx)
		if err != nil {
			r.status.setLastError(err)
			r.logger.Error("connect failed", "error", err)
			if !r.sleepBackoff(ctx, &backoff) {
				r.status.setPhase(PhaseStopped)
				return nil
			}
			continue
		}
		backoff = time.Second
		r.status.setConnected(time.Now())

		fatalErr, loopErr := r.sessionLoop(ctx, conn, sink, notifyCh)
		_ = conn.Close(context.Background())

		if fatalErr != nil {
			r.status.setLastError(fatalErr)
			r.status.setPhase(PhaseStopped)
			r.metrics.IncFatalError(identity)
			return &FatalError{Identity: identity, Err: fatalErr}
		}
		if ctx.Err() != nil {
			r.status.setPhase(PhaseStopped)
			return nil
		}
		if loopErr != nil {
			r.status.setLastError(loopErr)
			r.logger.Warn("connection lost, reconnecting", "error", loopErr)
		}
		r.metrics.IncReconnect(identity)
		r.status.setPhase(PhaseReconnecting)
		if !r.sleepBackoff(ctx, &backoff) {
			r.status.setPhase(PhaseStopped)
			return nil
		}
	}
}

func (r *Runner) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
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

// connect opens a fresh connection, wiring the notice sink and a
// buffered notification channel fed from pgx's OnNotification callback.
func (r *Runner) connect(ctx context.Context) (*pgx.Conn, *queue.NoticeSink, chan *pgconn.Notification, error) {
	pgCfg, err := pgx.ParseConfig(r.cfg.ConnString)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse connection string: %w", err)
	}

	sink := &queue.NoticeSink{}
	notifyCh := make(chan *pgconn.Notification, notifyBufferSize)
	pgCfg.OnNotice = sink.OnNotice
	pgCfg.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		select {
		case notifyCh <- n:
		default:
			r.logger.Warn("dropped NOTIFY, buffer full", "channel", n.Channel)
		}
	}

	conn, err := pgx.ConnectConfig(ctx, pgCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	return conn, sink, notifyCh, nil
}

// sessionLoop runs session init, statement preparation and the
// reselect loop until the connection is lost, ctx is cancelled, or a
// runner-fatal error occurs. fatalErr is non-nil only for the latter.
func (r *Runner) sessionLoop(ctx context.Context, conn *pgx.Conn, sink *queue.NoticeSink, notifyCh chan *pgconn.Notification) (fatalErr, loopErr error) {
	identity := r.cfg.Descriptor.CmdClassIdentity

	r.status.setPhase(PhaseSessionInit)
	if r.cfg.Descriptor.RunnerRole != "" {
		setRoleSQL := "SET ROLE " + (pgx.Identifier{r.cfg.Descriptor.RunnerRole}).Sanitize()
		if _, err := conn.Exec(ctx, setRoleSQL); err != nil {
			return fmt.Errorf("set role %s: %w", r.cfg.Descriptor.RunnerRole, err), nil
		}
	}
	envHstore, err := pgcodec.EncodeHstore(r.cfg.Env)
	if err != nil {
		return fmt.Errorf("encode session env: %w", err), nil
	}
	if _, err := conn.Exec(ctx, "SELECT runner_session_start($1, $2)", identity, envHstore); err != nil {
		return fmt.Errorf("runner_session_start: %w", err), nil
	}

	r.status.setPhase(PhasePrepareStatements)
	desc, err := conn.PgConn().DescribePrepared(ctx, stmtSelectOldest)
	if err != nil {
		return fmt.Errorf("describe %s: %w", stmtSelectOldest, err), nil
	}
	fieldIndex := make(map[string]int, len(desc.Fields))
	for i, f := range desc.Fields {
		fieldIndex[string(f.Name)] = i
	}

	if r.cfg.Descriptor.NotifyChannel != "" {
		listenSQL := "LISTEN " + (pgx.Identifier{r.cfg.Descriptor.NotifyChannel}).Sanitize()
		if _, err := conn.Exec(ctx, listenSQL); err != nil {
			return nil, fmt.Errorf("listen %s: %w", r.cfg.Descriptor.NotifyChannel, err)
		}
	}

	round := 0
	emptyStreak := 0
	var pendingHint *notifyHint

	for {
		if ctx.Err() != nil {
			return nil, nil
		}

		if r.paused.Load() {
			if waitErr := r.waitPhase(ctx, conn, notifyCh, identity, time.Now().Add(time.Duration(r.cfg.Descriptor.ReselectIntervalMsec)*time.Millisecond), &pendingHint); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		r.status.setPhase(PhaseSelecting)
		hint := pendingHint
		pendingHint = nil

		randomTurn := r.cfg.Descriptor.ReselectRandomizedEveryN > 0 && round > 0 && round%r.cfg.Descriptor.ReselectRandomizedEveryN == 0

		cmd, found, err := r.selectOne(ctx, conn, fieldIndex, hint, randomTurn)
		if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}

		if !found {
			emptyStreak++
			r.status.setEmptyStreak(emptyStreak)
			r.metrics.SetEmptyReselectStreak(identity, emptyStreak)
			if hint == nil {
				round++
				if _, err := conn.Exec(ctx, "SELECT enter_reselect_round()"); err != nil {
					return nil, fmt.Errorf("enter_reselect_round: %w", err)
				}
				deadline := time.Now().Add(time.Duration(r.cfg.Descriptor.ReselectIntervalMsec) * time.Millisecond)
				if waitErr := r.waitPhase(ctx, conn, notifyCh, identity, deadline, &pendingHint); waitErr != nil {
					return nil, waitErr
				}
			}
			// NOTIFY-directed empty fetch: retry immediately, no wait.
			continue
		}

		emptyStreak = 0
		r.status.setEmptyStreak(0)
		r.status.setPhase(PhaseExecuting)
		r.executeAndUpdate(ctx, conn, sink, cmd)
	}
}

// selectOne runs the appropriate prepared statement and decodes the
// single row it returns, if any, inside a fresh transaction that stays
// open (still holding the row lock) for the caller to finish.
func (r *Runner) selectOne(ctx context.Context, conn *pgx.Conn, fieldIndex map[string]int, hint *notifyHint, randomTurn bool) (queue.Command, bool, error) {
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return nil, false, err
	}

	var rows pgx.Rows
	var err error
	switch {
	case hint != nil:
		rows, err = conn.Query(ctx, "EXECUTE "+stmtSelectNotify+"($1, $2)", hint.CmdID, hint.CmdSubID)
	case randomTurn:
		rows, err = conn.Query(ctx, "EXECUTE "+stmtSelectRandom)
	default:
		rows, err = conn.Query(ctx, "EXECUTE "+stmtSelectOldest)
	}
	if err != nil {
		_, _ = conn.Exec(ctx, "ROLLBACK")
		return nil, false, err
	}

	identity := r.cfg.Descriptor.CmdClassIdentity
	relname := r.cfg.Descriptor.CmdClassRelname

	if !rows.Next() {
		rows.Close()
		if err := rows.Err(); err != nil {
			_, _ = conn.Exec(ctx, "ROLLBACK")
			return nil, false, err
		}
		if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var cmd queue.Command
	var decodeErr error
	switch r.cfg.Descriptor.SignatureClass {
	case queue.SignatureNix:
		cmd, decodeErr = queue.DecodeProcessCommand(rows, fieldIndex, identity, relname)
	case queue.SignatureSQL:
		cmd, decodeErr = queue.DecodeSqlCommand(rows, fieldIndex, identity, relname)
	default:
		decodeErr = fmt.Errorf("unrecognized signature class %q", r.cfg.Descriptor.SignatureClass)
	}
	rows.Close()
	if decodeErr != nil {
		_, _ = conn.Exec(ctx, "ROLLBACK")
		r.logger.Error("decode error, skipping row", "error", decodeErr)
		return nil, false, nil
	}

	if hint != nil && !cmd.Metadata().SameIdentity(hint.CmdID, hint.CmdSubID) {
		_, _ = conn.Exec(ctx, "ROLLBACK")
		r.logger.Error("select_notify_cmd returned a row not matching the NOTIFY hint, skipping",
			"hint_cmd_id", hint.CmdID)
		return nil, false, nil
	}

	// Transaction stays open — caller finishes with executeAndUpdate.
	return cmd, true, nil
}

// executeAndUpdate runs the command's executor, writes the result
// back, and resolves the outer transaction (spec §4.5 step 2).
func (r *Runner) executeAndUpdate(ctx context.Context, conn *pgx.Conn, sink *queue.NoticeSink, cmd queue.Command) {
	identity := r.cfg.Descriptor.CmdClassIdentity
	meta := cmd.Metadata()
	cc := ctxlog.CommandContext{Queue: identity, CmdID: meta.CmdID}
	if meta.CmdSubID != nil {
		cc.CmdSubID = *meta.CmdSubID
	}
	ctx = ctxlog.WithCommandContext(ctx, cc)

	switch c := cmd.(type) {
	case *queue.ProcessCommand:
		r.procExec.Execute(c, r.cfg.Descriptor.CmdTimeoutSec)
		if c.TermSig != nil && (*c.TermSig == int(syscall.SIGTERM) || *c.TermSig == int(syscall.SIGKILL)) {
			r.metrics.IncCommandTimeout(identity)
		}
	case *queue.SqlCommand:
		c.StampStart(time.Now())
		r.sqlExec.Execute(ctx, conn, sink, c)
		c.StampEnd(time.Now())
		for range c.NonfatalErrors {
			r.metrics.IncNotice(identity)
		}
	}

	r.status.setPhase(PhaseUpdating)
	meta = cmd.Metadata()
	outcome := outcomeOf(cmd)
	r.metrics.ObserveCommandDuration(identity, outcome, meta.CmdRuntimeEnd.Sub(meta.CmdRuntimeStart).Seconds())
	r.status.recordCommand(outcome, time.Now())

	params := cmd.UpdateParams()
	_, updateErr := conn.Exec(ctx, "EXECUTE "+stmtUpdateCmd+"($1, $2, $3, $4, $5, $6, $7, $8)", params...)
	if updateErr != nil {
		_, _ = conn.Exec(ctx, "ROLLBACK")
		r.logger.ErrorContext(ctx, "update failed, remembering row for this round", "error", updateErr)
		if _, err := conn.Exec(ctx, "SELECT remember_failed_update_for_this_reselect_round($1, $2)", meta.CmdID, meta.CmdSubID); err != nil {
			r.logger.ErrorContext(ctx, "remember_failed_update_for_this_reselect_round failed", "error", err)
		}
		return
	}
	if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		r.logger.ErrorContext(ctx, "commit failed", "error", err)
	}
}

func outcomeOf(cmd queue.Command) string {
	switch c := cmd.(type) {
	case *queue.ProcessCommand:
		switch {
		case c.ExitCode != nil && *c.ExitCode == 0:
			return "success"
		case c.ExitCode != nil:
			return "nonzero_exit"
		default:
			return "signaled"
		}
	case *queue.SqlCommand:
		if c.FatalError != nil {
			return "sql_error"
		}
		return "success"
	default:
		return "unknown"
	}
}

// waitPhase blocks until deadline, ctx cancellation, or a matching
// NOTIFY arrives — the Go-idiomatic replacement for poll() over the
// libpq socket and the self-pipe (spec §4.5, §9).
func (r *Runner) waitPhase(ctx context.Context, conn *pgx.Conn, notifyCh chan *pgconn.Notification, identity string, deadline time.Time, pendingHint **notifyHint) error {
	r.status.setPhase(PhaseWaiting)

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		err := conn.PgConn().WaitForNotification(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case n := <-notifyCh:
			hint, perr := parseNotifyPayload(n.Payload, identity)
			if perr != nil {
				r.logger.Warn("dropping malformed NOTIFY", "error", perr)
				continue
			}
			if hint != nil {
				*pendingHint = hint
				return nil
			}
		default:
		}
	}
}
