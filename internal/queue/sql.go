package queue

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigsmoke/pg_cmdqd/internal/pgcodec"
)

// SqlCommand is a row of a queue whose signature class is
// sql_queue_cmd_template.
type SqlCommand struct {
	meta Metadata

	SQL string

	// Result fields.
	ResultStatus    string
	FatalError      pgcodec.DiagFields
	NonfatalErrors  []pgcodec.DiagFields
}

func (c *SqlCommand) Metadata() Metadata     { return c.meta }
func (c *SqlCommand) StampStart(t time.Time) { c.meta.CmdRuntimeStart = t }
func (c *SqlCommand) StampEnd(t time.Time)   { c.meta.CmdRuntimeEnd = t }

// DecodeSqlCommand decodes one row returned by select_oldest_cmd /
// select_random_cmd / select_notify_cmd for a sql_queue_cmd_template
// queue.
func DecodeSqlCommand(row pgx.Rows, fieldIndex map[string]int, classIdentity, classRelname string) (*SqlCommand, error) {
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

	cmd := &SqlCommand{
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

	sqlVal, ok := get("sql")
	if !ok || sqlVal == nil {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "sql is NULL, which is never allowed"}
	}
	sqlText, ok := sqlVal.(string)
	if !ok {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "sql is not text"}
	}
	sqlText = strings.Trim(sqlText, "\n\t ")
	if sqlText == "" {
		return nil, &CommandDecodeError{CmdClassIdentity: classIdentity, Reason: "sql is empty after trimming whitespace"}
	}
	cmd.SQL = sqlText

	return cmd, nil
}

// UpdateParams returns the positional parameters for the prepared
// UPDATE: identity, runtime range, result_status, result_rows
// (currently unused, always NULL per spec §3), fatal_error, and
// nonfatal_errors, the last two encoded as PostgreSQL composite/array
// text literals.
func (c *SqlCommand) UpdateParams() []any {
	var fatal *string
	if c.FatalError != nil {
		v := c.FatalError.ToComposite()
		fatal = &v
	}

	composites := make([]string, 0, len(c.NonfatalErrors))
	for _, e := range c.NonfatalErrors {
		composites = append(composites, e.ToComposite())
	}
	nonfatal := pgcodec.EncodeCompositeArray(composites)

	return []any{
		c.meta.CmdID,
		c.meta.CmdSubID,
		c.meta.CmdRuntimeStart,
		c.meta.CmdRuntimeEnd,
		c.ResultStatus,
		nil, // result_rows — reserved, spec §3
		fatal,
		nonfatal,
	}
}
