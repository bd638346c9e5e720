package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigsmoke/pg_cmdqd/internal/pgcodec"
)

// NoticeSink is the per-connection notice callback state spec §4.4/§9
// calls for explicitly: each runner owns exactly one connection used
// by exactly one goroutine, so a single mutable "which command is
// currently running" pointer is sufficient — no global-like singleton
// is needed, unlike the C original's process-wide receiver.
type NoticeSink struct {
	mu      sync.Mutex
	current *SqlCommand
}

// OnNotice is installed once, at connect time, as the connection's
// pgx.ConnConfig.OnNotice callback.
func (s *NoticeSink) OnNotice(_ *pgconn.PgConn, n *pgconn.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current.NonfatalErrors = append(s.current.NonfatalErrors, pgcodec.FieldsFromPgError((*pgconn.PgError)(n)))
}

func (s *NoticeSink) begin(cmd *SqlCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cmd
}

func (s *NoticeSink) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// SQLExecutor runs SqlCommand rows against the runner's own connection,
// inside the transaction the runner already opened (spec §4.4).
type SQLExecutor struct {
	logger *slog.Logger
}

func NewSQLExecutor(logger *slog.Logger) *SQLExecutor {
	return &SQLExecutor{logger: logger.With("component", "sql_executor")}
}

// Execute implements spec §4.4's five-step algorithm: savepoint, run
// the queued SQL, SET CONSTRAINTS ALL IMMEDIATE, then resolve the
// savepoint according to whether the command itself failed.
//
// conn must already be inside the runner's outer transaction; Execute
// never commits or rolls back that outer transaction — only the
// savepoint nested within it.
func (e *SQLExecutor) Execute(ctx context.Context, conn *pgx.Conn, sink *NoticeSink, cmd *SqlCommand) {
	sink.begin(cmd)
	defer sink.end()

	e.logger.Debug("running SQL command",
		"cmd_id", cmd.meta.CmdID, "queue", cmd.meta.CmdClassIdentity, "sql", cmd.SQL)

	if _, err := conn.Exec(ctx, "SAVEPOINT pre_run_cmd"); err != nil {
		cmd.ResultStatus = statusOf(err)
		cmd.FatalError = e.handleFatality(cmd, err)
		return // bookkeeping itself failed: nothing left to resolve.
	}

	cmdFailed := false
	rows, err := conn.Query(ctx, cmd.SQL)
	if err != nil {
		cmdFailed = true
		cmd.ResultStatus = statusOf(err)
		cmd.FatalError = e.handleFatality(cmd, err)
	} else {
		// A result with field descriptions is a tuple-returning
		// statement (SELECT, INSERT/UPDATE ... RETURNING, ...);
		// otherwise it's a plain command (spec §3 result_status).
		hasFields := len(rows.FieldDescriptions()) > 0
		for rows.Next() {
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			cmdFailed = true
			cmd.ResultStatus = statusOf(err)
			cmd.FatalError = e.handleFatality(cmd, err)
		} else if hasFields {
			cmd.ResultStatus = "TUPLES_OK"
		} else {
			cmd.ResultStatus = "COMMAND_OK"
		}
	}

	if cmd.FatalError == nil {
		if _, err := conn.Exec(ctx, "SET CONSTRAINTS ALL IMMEDIATE"); err != nil {
			cmdFailed = true
			cmd.ResultStatus = statusOf(err)
			cmd.FatalError = e.handleFatality(cmd, err)
		}
	}

	var resolveErr error
	if cmdFailed {
		_, resolveErr = conn.Exec(ctx, "ROLLBACK TO SAVEPOINT pre_run_cmd")
	} else {
		_, resolveErr = conn.Exec(ctx, "RELEASE SAVEPOINT pre_run_cmd")
	}
	if resolveErr != nil {
		e.logger.Error("savepoint resolution failed",
			"cmd_id", cmd.meta.CmdID, "queue", cmd.meta.CmdClassIdentity, "error", resolveErr)
	}
}

func (e *SQLExecutor) handleFatality(cmd *SqlCommand, err error) pgcodec.DiagFields {
	e.logger.Error("SQL command failed",
		"cmd_id", cmd.meta.CmdID, "cmd_subid", cmd.meta.CmdSubID,
		"queue", cmd.meta.CmdClassIdentity, "error", err)

	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return pgcodec.FieldsFromPgError(pgErr)
	}
	msg := err.Error()
	return pgcodec.DiagFields{'M': &msg}
}

func statusOf(err error) string {
	var pgErr *pgconn.PgError
	if asPgError(err, &pgErr) {
		return fmt.Sprintf("ERROR(%s)", pgErr.Code)
	}
	return "ERROR"
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
