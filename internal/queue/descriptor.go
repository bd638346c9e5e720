package queue

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SignatureClass selects which command record variant — and therefore
// which executor — a queue's rows decode into.
type SignatureClass string

const (
	SignatureNix SignatureClass = "nix_queue_cmd_template"
	SignatureSQL SignatureClass = "sql_queue_cmd_template"
)

// Descriptor is an immutable, cheaply-cloneable snapshot of one row of
// the supervisor's queue registry. It is safe to share by reference
// across goroutines because nothing ever mutates it after decode.
type Descriptor struct {
	CmdClassIdentity          string
	CmdClassRelname           string
	SignatureClass            SignatureClass
	RunnerRole                string // empty means "do not SET ROLE"
	NotifyChannel             string // empty means "no per-queue LISTEN"
	ReselectIntervalMsec      int
	ReselectRandomizedEveryN  int // 0 means "never randomize"
	CmdTimeoutSec             float64
	AnsiFG                    string
}

// ThreadName is the value used to label the runner's goroutine/logger —
// the source caps this at 15 characters (the historical pthread name
// limit), which we keep so log output stays comparable across queues.
func (d Descriptor) ThreadName() string {
	if len(d.CmdClassRelname) <= 15 {
		return d.CmdClassRelname
	}
	return d.CmdClassRelname[:15]
}

// DecodeError explains, in human-readable terms, why a registry row
// could not become a valid Descriptor. The supervisor logs this and
// skips the row rather than failing startup.
type DecodeError struct {
	CmdClassIdentity string
	Reason           string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("queue descriptor %q: %s", e.CmdClassIdentity, e.Reason)
}

// DecodeDescriptor builds a Descriptor from one row of the registry
// query, described in column order to match a `SELECT *`-style scan
// over the registry view.
func DecodeDescriptor(row pgx.Row) (Descriptor, error) {
	var d Descriptor
	var signatureClass string
	var runnerRole, notifyChannel, ansiFG *string
	var randomizeEveryN *int

	err := row.Scan(
		&d.CmdClassIdentity,
		&d.CmdClassRelname,
		&signatureClass,
		&runnerRole,
		&notifyChannel,
		&d.ReselectIntervalMsec,
		&randomizeEveryN,
		&d.CmdTimeoutSec,
		&ansiFG,
	)
	if err != nil {
		return Descriptor{}, &DecodeError{Reason: fmt.Sprintf("scan registry row: %v", err)}
	}

	d.SignatureClass = SignatureClass(signatureClass)
	if d.SignatureClass != SignatureNix && d.SignatureClass != SignatureSQL {
		return Descriptor{}, &DecodeError{
			CmdClassIdentity: d.CmdClassIdentity,
			Reason:           fmt.Sprintf("unrecognized cmd_signature_class_relname %q", signatureClass),
		}
	}
	if d.CmdClassIdentity == "" {
		return Descriptor{}, &DecodeError{Reason: "cmd_class_identity is empty"}
	}
	if d.ReselectIntervalMsec < 0 {
		return Descriptor{}, &DecodeError{
			CmdClassIdentity: d.CmdClassIdentity,
			Reason:           "reselect_interval_msec must be >= 0",
		}
	}
	if randomizeEveryN != nil {
		if *randomizeEveryN <= 0 {
			return Descriptor{}, &DecodeError{
				CmdClassIdentity: d.CmdClassIdentity,
				Reason:           "reselect_randomized_every_nth must be positive when set",
			}
		}
		d.ReselectRandomizedEveryN = *randomizeEveryN
	}
	if runnerRole != nil {
		d.RunnerRole = *runnerRole
	}
	if notifyChannel != nil {
		d.NotifyChannel = *notifyChannel
	}
	if ansiFG != nil {
		d.AnsiFG = *ansiFG
	}
	return d, nil
}
