package pgcodec

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// DiagTags enumerates, in the order PostgreSQL's wire protocol defines
// them, the single-byte diagnostic field tags captured in a
// FatalError/NonfatalErrors map (spec §4.2's "mapping from PG diagnostic
// field tag to optional text").
var DiagTags = []byte{
	'S', 'V', 'C', 'M', 'D', 'H', 'P', 'p', 'q',
	'W', 's', 't', 'c', 'd', 'n', 'F', 'L', 'R',
}

// DiagFields is an ordered snapshot of a PostgreSQL error or notice,
// keyed by protocol tag byte.
type DiagFields map[byte]*string

// FieldsFromPgError builds a DiagFields map from a structured pgconn
// error, the way pgx exposes it — avoiding the original C implementation's
// re-parse of the raw error message off the wire.
func FieldsFromPgError(e *pgconn.PgError) DiagFields {
	f := make(DiagFields, len(DiagTags))
	set := func(tag byte, v string) {
		if v == "" {
			return
		}
		f[tag] = &v
	}
	setInt := func(tag byte, v int32) {
		if v == 0 {
			return
		}
		s := strconv.FormatInt(int64(v), 10)
		f[tag] = &s
	}
	set('S', e.Severity)
	set('V', e.SeverityUnlocalized)
	set('C', e.Code)
	set('M', e.Message)
	set('D', e.Detail)
	set('H', e.Hint)
	setInt('P', e.Position)
	setInt('p', e.InternalPosition)
	set('q', e.InternalQuery)
	set('W', e.Where)
	set('s', e.SchemaName)
	set('t', e.TableName)
	set('c', e.ColumnName)
	set('d', e.DataTypeName)
	set('n', e.ConstraintName)
	set('F', e.File)
	setInt('L', e.Line)
	set('R', e.Routine)
	return f
}

// ToComposite orders fields by DiagTags and renders them as a
// PostgreSQL composite literal for the UPDATE parameter.
func (f DiagFields) ToComposite() string {
	fields := make([]*string, 0, len(DiagTags))
	for _, tag := range DiagTags {
		v, ok := f[tag]
		if !ok {
			fields = append(fields, nil)
			continue
		}
		fields = append(fields, v)
	}
	return EncodeComposite(fields)
}
