package queue

import (
	"time"

	"github.com/jackc/pgx/v5"
)

// ProcessCommand is a row of a queue whose signature class is
// nix_queue_cmd_template: argv/env/stdin in, exit status/stdout/stderr
// out.
type ProcessCommand struct {
	meta Metadata

	Argv []string
	Env  map[string]string
	Stdin []byte

	// Result fields. Exactly one of ExitCode/TermSig is set once
	// Execute has run — enforced by the ProcessExecutor, mirrored by a
	// NOT NULL-ish CHECK on the database side (spec §3, invariant 1).
	ExitCode *int
	TermSig  *int
	Stdout   []byte
	Stderr   []byte
}

// Sentinel term_sig values (spec §3).
const (
	TermSigWaitpidFailure  = -1
	TermSigAbnormalExit    = -2
	TermSigAbort           = 6 // SIGABRT, used for internal I/O failures (spec §4.3, §7)
)

func (c *ProcessCommand) Metadata() Metadata     { return c.meta }
func (c *ProcessCommand) StampStart(t time.Time) { c.meta.CmdRuntimeStart = t }
func (c *ProcessCommand) StampEnd(t time.Time)   { c.meta.CmdRuntimeEnd = t }

// DecodeProcessCommand decodes one row returned by select_oldest_cmd /
// select_random_cmd / select_notify_cmd for a nix_queue_cmd_template
// queue. fieldIndex maps column name to its position in row, cached
// once per connection from describePrepared (spec §4.5).
func DecodeProcessCommand(row pgx.Rows, fieldIndex map[string]int, classIdentity, classRelname string) (*ProcessCommand, error) {
	vals, err := row.Values()
	if err != nil {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: err.Error()}
	}

	get := func(name string) (any, bool) {
		idx, ok := fieldIndex[name]
		if !ok || idx >= len(vals) {
			return nil, false
		}
		return vals[idx], true
	}

	cmd := &ProcessCommand{
		meta: Metadata{CmdClassIdentity: classIdentity, CmdClassRelname: classRelname},
	}

	cmdID, ok := get("cmd_id")
	if !ok || cmdID == nil {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "cmd_id is NULL or missing"}
	}
	s, ok := cmdID.(string)
	if !ok {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "cmd_id is not text"}
	}
	cmd.meta.CmdID = s

	if v, ok := get("cmd_subid"); ok && v != nil {
		if s, ok := v.(string); ok {
			cmd.meta.CmdSubID = &s
		}
	}
	if v, ok := get("cmd_queued_since"); ok {
		if t, ok := v.(time.Time); ok {
			cmd.meta.CmdQueuedSince = t
		}
	}

	argvVal, ok := get("argv")
	if !ok || argvVal == nil {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "argv is NULL or missing"}
	}
	argv, err := toStringSlice(argvVal)
	if err != nil || len(argv) == 0 {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "argv must be a non-empty text array"}
	}
	cmd.Argv = argv

	cmd.Env = map[string]string{}
	if v, ok := get("env"); ok && v != nil {
		env, err := toStringMap(v)
		if err != nil {
			return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "env: " + err.Error()}
		}
		cmd.Env = env
	}

	if v, ok := get("stdin"); ok && v != nil {
		b, err := toBytes(v)
		if err != nil {
			return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "stdin: " + err.Error()}
		}
		cmd.Stdin = b
	}

	return cmd, nil
}

// UpdateParams returns the positional parameters for the prepared
// UPDATE, matching spec §4.2: identity, runtime range, then
// exit_code/term_sig/stdout/stderr. stdout/stderr are passed as []byte
// so pgx encodes them binary (bytea), the one byte-format parameter the
// spec calls out explicitly.
func (c *ProcessCommand) UpdateParams() []any {
	return []any{
		c.meta.CmdID,
		c.meta.CmdSubID,
		c.meta.CmdRuntimeStart,
		c.meta.CmdRuntimeEnd,
		c.ExitCode,
		c.TermSig,
		c.Stdout,
		c.Stderr,
	}
}
