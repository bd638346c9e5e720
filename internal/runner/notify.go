package runner

import (
	"fmt"

	"github.com/bigsmoke/pg_cmdqd/internal/pgcodec"
)

// notifyHint is the decoded payload of a NOTIFY that targets this
// runner's queue: a specific (cmd_id, cmd_subid) to fetch with
// select_notify_cmd instead of the oldest/random statement.
type notifyHint struct {
	CmdID    string
	CmdSubID *string
}

// parseNotifyPayload decodes the composite text value
// (cmd_class_identity, cmd_id, cmd_subid?) and returns nil, nil when
// the payload is well-formed but targets a different queue (spec §4.5
// NOTIFY payload parsing: "ignored", not an error).
func parseNotifyPayload(payload, identity string) (*notifyHint, error) {
	fields, err := pgcodec.DecodeComposite(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed NOTIFY payload %q: %w", payload, err)
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("NOTIFY payload %q has %d fields, want at least 2", payload, len(fields))
	}
	if fields[0] == nil || fields[1] == nil {
		return nil, fmt.Errorf("NOTIFY payload %q: cmd_class_identity or cmd_id is NULL", payload)
	}
	if *fields[0] != identity {
		return nil, nil
	}
	hint := &notifyHint{CmdID: *fields[1]}
	if len(fields) >= 3 {
		hint.CmdSubID = fields[2]
	}
	return hint, nil
}
