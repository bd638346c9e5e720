package queue

import (
	"fmt"
	"time"
)

// Metadata is common to every command variant: the identity of the row
// plus the three wall-clock timestamps the UPDATE reports back.
type Metadata struct {
	CmdClassIdentity string
	CmdClassRelname  string
	CmdID            string
	CmdSubID         *string // NULL-safe identity: "is not distinct from" on compare

	CmdQueuedSince  time.Time
	CmdRuntimeStart time.Time
	CmdRuntimeEnd   time.Time
}

// SameIdentity reports whether two metadata values share (cmd_id,
// cmd_subid), using NULL-safe comparison on the subid per spec §3.
func (m Metadata) SameIdentity(cmdID string, cmdSubID *string) bool {
	if m.CmdID != cmdID {
		return false
	}
	switch {
	case m.CmdSubID == nil && cmdSubID == nil:
		return true
	case m.CmdSubID == nil || cmdSubID == nil:
		return false
	default:
		return *m.CmdSubID == *cmdSubID
	}
}

// Command is the polymorphic contract shared by ProcessCommand and
// SqlCommand (spec §4.2). The runner only needs enough of each variant
// to log it and to write its outcome back; execution itself happens
// through the process/SQL executors, which take the concrete type.
type Command interface {
	Metadata() Metadata
	StampStart(t time.Time)
	StampEnd(t time.Time)

	// UpdateParams returns the exact positional parameters the UPDATE
	// consumes, identity and runtime range first, then the
	// variant-specific outcome columns.
	UpdateParams() []any
}

// CommandDecodeError wraps a malformed-row failure with enough context
// for the runner to log and skip, matching spec §7's "Decode errors".
type CommandDecodeError struct {
	CmdClassIdentity string
	Reason           string
}

func (e *CommandDecodeError) Error() string {
	return fmt.Sprintf("decode command row for %q: %s", e.CmdClassIdentity, e.Reason)
}
