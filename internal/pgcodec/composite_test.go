package pgcodec

import (
	"reflect"
	"testing"
)

func strptr(s string) *string { return &s }

func TestCompositeRoundTrip(t *testing.T) {
	cases := [][]*string{
		{strptr("a"), strptr("b"), strptr("c")},
		{strptr(`quote"inside`), nil, strptr(`back\slash`)},
		{nil, nil, nil},
		{strptr(""), strptr("x,y"), strptr("(parens)")},
		{strptr("utf-8: héllo wörld 日本語")},
	}

	for _, fields := range cases {
		encoded := EncodeComposite(fields)
		decoded, err := DecodeComposite(encoded)
		if err != nil {
			t.Fatalf("DecodeComposite(%q): %v", encoded, err)
		}
		if len(decoded) != len(fields) {
			t.Fatalf("field count: got %d, want %d (encoded=%q)", len(decoded), len(fields), encoded)
		}
		for i := range fields {
			want := fields[i]
			got := decoded[i]
			switch {
			case want == nil && got == nil:
				continue
			case want == nil || got == nil:
				t.Fatalf("field %d: got %v, want %v (encoded=%q)", i, got, want, encoded)
			case *want != *got:
				t.Fatalf("field %d: got %q, want %q (encoded=%q)", i, *got, *want, encoded)
			}
		}
	}
}

func TestCompositeArrayRoundTrip(t *testing.T) {
	composites := []string{
		EncodeComposite([]*string{strptr("a"), strptr("b")}),
		EncodeComposite([]*string{strptr(`has "quotes" and \slash`), nil}),
	}
	encoded := EncodeCompositeArray(composites)

	decoded, err := DecodeArray(encoded)
	if err != nil {
		t.Fatalf("DecodeArray(%q): %v", encoded, err)
	}
	if !reflect.DeepEqual(decoded, composites) {
		t.Fatalf("got %#v, want %#v (encoded=%q)", decoded, composites, encoded)
	}

	// Each element must itself still decode as a valid composite.
	for _, c := range decoded {
		if _, err := DecodeComposite(c); err != nil {
			t.Fatalf("nested DecodeComposite(%q): %v", c, err)
		}
	}
}

func TestDecodeArrayEmpty(t *testing.T) {
	decoded, err := DecodeArray("{}")
	if err != nil {
		t.Fatalf("DecodeArray({}): %v", err)
	}
	if decoded != nil {
		t.Fatalf("got %#v, want nil", decoded)
	}
}

func TestDecodeCompositeRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "not-a-composite", `("unterminated`} {
		if _, err := DecodeComposite(bad); err == nil {
			t.Errorf("DecodeComposite(%q): expected error, got none", bad)
		}
	}
}

func TestEncodeHstore(t *testing.T) {
	got, err := EncodeHstore(map[string]string{"PATH": "/usr/bin", "q": `a"b`})
	if err != nil {
		t.Fatalf("EncodeHstore: %v", err)
	}
	if got == "" {
		t.Fatalf("EncodeHstore returned empty string")
	}
}
