package queue

import (
	"fmt"
	"strings"
)

// toStringSlice accepts the handful of shapes pgx might hand back for a
// text[] column depending on how the driver's type map resolved it.
func toStringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("array element is not text: %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported array representation: %T", v)
	}
}

// toStringMap accepts either pgx's native hstore decoding (map[string]*string)
// or a raw hstore text value, in case the extension type isn't registered
// on the connection's type map.
func toStringMap(v any) (map[string]string, error) {
	switch t := v.(type) {
	case map[string]string:
		return t, nil
	case map[string]*string:
		out := make(map[string]string, len(t))
		for k, p := range t {
			if p == nil {
				return nil, fmt.Errorf("env value for %q is NULL, which is not allowed", k)
			}
			out[k] = *p
		}
		return out, nil
	case string:
		return parseHstoreText(t)
	default:
		return nil, fmt.Errorf("unsupported hstore representation: %T", v)
	}
}

func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("unsupported byte representation: %T", v)
	}
}

// parseHstoreText is a minimal reader for "k"=>"v", "k"=>NULL pairs,
// used only as a fallback when hstore arrives as raw text rather than
// already decoded by the connection's type map.
func parseHstoreText(s string) (map[string]string, error) {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range splitHstorePairs(s) {
		kv := strings.SplitN(pair, "=>", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed hstore pair: %q", pair)
		}
		key := unquoteHstoreToken(strings.TrimSpace(kv[0]))
		valTok := strings.TrimSpace(kv[1])
		if valTok == "NULL" {
			return nil, fmt.Errorf("env value for %q is NULL, which is not allowed", key)
		}
		out[key] = unquoteHstoreToken(valTok)
	}
	return out, nil
}

func splitHstorePairs(s string) []string {
	var pairs []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			quoted = !quoted
			cur.WriteByte(c)
		case c == '\\' && quoted && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == ',' && !quoted:
			pairs = append(pairs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		pairs = append(pairs, cur.String())
	}
	return pairs
}

func unquoteHstoreToken(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		inner := tok[1 : len(tok)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\\`, `\`)
		return inner
	}
	return tok
}
