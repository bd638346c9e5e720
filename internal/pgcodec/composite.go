// Package pgcodec encodes and decodes the PostgreSQL text formats the
// runner writes into UPDATE parameters and reads out of NOTIFY payloads:
// composite values, text arrays of composites, and hstore. The quoting
// rules mirror github.com/lib/pq's array encoder (see EncodeCompositeArray) so
// that escaping stays consistent across both formats.
package pgcodec

import (
	"fmt"
	"strings"
)

// EncodeComposite renders fields as a PostgreSQL composite literal,
// e.g. ("a","b\"c",) for the fields "a", `b"c` and nil. A nil entry encodes as
// an unquoted empty field, which PostgreSQL reads back as NULL.
func EncodeComposite(fields []*string) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		if f == nil {
			continue
		}
		writeQuoted(&b, *f)
	}
	b.WriteByte(')')
	return b.String()
}

// EncodeCompositeArray renders a slice of already-encoded composite
// literals as a PostgreSQL text array, e.g. {"(\"a\")","(\"b\")"}.
func EncodeCompositeArray(composites []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range composites {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuoted(&b, c)
	}
	b.WriteByte('}')
	return b.String()
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
}

// DecodeComposite parses a PostgreSQL composite literal's text
// representation into its fields. A field that was never quoted and is
// empty decodes as NULL (nil); PostgreSQL never emits an empty string
// as an unquoted field, so this is unambiguous on the read path.
func DecodeComposite(s string) ([]*string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("pgcodec: not a composite literal: %q", s)
	}
	body := s[1 : len(s)-1]

	var fields []*string
	var cur strings.Builder
	quoted := false
	sawQuote := false
	i := 0
	flush := func() {
		if !quoted && !sawQuote && cur.Len() == 0 {
			fields = append(fields, nil)
		} else {
			v := cur.String()
			fields = append(fields, &v)
		}
		cur.Reset()
		quoted = false
		sawQuote = false
	}

	for i < len(body) {
		c := body[i]
		switch {
		case c == '"' && !quoted:
			quoted = true
			sawQuote = true
			i++
		case c == '"' && quoted:
			quoted = false
			i++
		case c == '\\' && quoted && i+1 < len(body):
			cur.WriteByte(body[i+1])
			i += 2
		case c == ',' && !quoted:
			flush()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()

	if quoted {
		return nil, fmt.Errorf("pgcodec: unterminated quoted field in composite literal: %q", s)
	}
	return fields, nil
}

// DecodeArray splits a PostgreSQL text array's text representation
// into its (still textually-composite) elements, honoring the same
// quoting as DecodeComposite.
func DecodeArray(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("pgcodec: not an array literal: %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}

	var elems []string
	var cur strings.Builder
	quoted := false
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '"' && !quoted:
			quoted = true
			i++
		case c == '"' && quoted:
			quoted = false
			i++
		case c == '\\' && quoted && i+1 < len(body):
			cur.WriteByte(body[i+1])
			i += 2
		case c == ',' && !quoted:
			elems = append(elems, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	elems = append(elems, cur.String())
	return elems, nil
}
