package pgcodec

import (
	"database/sql"

	"github.com/lib/pq/hstore"
)

// EncodeHstore renders env as an hstore text value, reusing lib/pq's
// hstore.Hstore encoder so the escaping matches what the hstore
// extension itself round-trips on decode. Every value is passed as a
// valid (non-NULL) sql.NullString, for which hstore.Hstore.Value never
// returns an error.
func EncodeHstore(env map[string]string) (string, error) {
	m := make(map[string]sql.NullString, len(env))
	for k, val := range env {
		m[k] = sql.NullString{String: val, Valid: true}
	}
	v, err := hstore.Hstore{Map: m}.Value()
	if err != nil {
		return "", err
	}
	b, _ := v.([]byte)
	return string(b), nil
}
