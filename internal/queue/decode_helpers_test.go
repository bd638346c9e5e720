package queue

import (
	"reflect"
	"testing"
)

func TestToStringSliceVariants(t *testing.T) {
	got, err := toStringSlice([]string{"a", "b"})
	if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("got %v, %v", got, err)
	}

	got, err = toStringSlice([]any{"a", "b"})
	if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("got %v, %v", got, err)
	}

	if _, err := toStringSlice([]any{1, 2}); err == nil {
		t.Error("expected error for non-string array element")
	}

	if _, err := toStringSlice(42); err == nil {
		t.Error("expected error for unsupported representation")
	}
}

func TestToStringMapRejectsNullValue(t *testing.T) {
	v := "present"
	m := map[string]*string{"PATH": &v, "BROKEN": nil}
	if _, err := toStringMap(m); err == nil {
		t.Error("expected error when an hstore value is NULL")
	}
}

func TestToStringMapFromRawText(t *testing.T) {
	got, err := toStringMap(`"PATH"=>"/usr/bin", "EMPTY"=>""`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"PATH": "/usr/bin", "EMPTY": ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestToStringMapRawTextNullValue(t *testing.T) {
	if _, err := toStringMap(`"PATH"=>NULL`); err == nil {
		t.Error("expected error for NULL value in raw hstore text")
	}
}

func TestToBytes(t *testing.T) {
	b, err := toBytes([]byte("hi"))
	if err != nil || string(b) != "hi" {
		t.Fatalf("got %v, %v", b, err)
	}
	b, err = toBytes("hi")
	if err != nil || string(b) != "hi" {
		t.Fatalf("got %v, %v", b, err)
	}
}
