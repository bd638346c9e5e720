package queue

import "testing"

// fakeRow implements pgx.Row over a fixed slice of values, in column
// order matching DecodeDescriptor's Scan call.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case **string:
			*v, _ = r.values[i].(*string)
		case *int:
			*v = r.values[i].(int)
		case **int:
			*v, _ = r.values[i].(*int)
		case *float64:
			*v = r.values[i].(float64)
		}
	}
	return nil
}

func validRowValues() []any {
	return []any{
		"orders.cmd_queue", "cmd_queue", string(SignatureNix),
		(*string)(nil), (*string)(nil), 500, (*int)(nil), 30.0, (*string)(nil),
	}
}

func TestDecodeDescriptorValid(t *testing.T) {
	d, err := DecodeDescriptor(fakeRow{values: validRowValues()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.CmdClassIdentity != "orders.cmd_queue" {
		t.Errorf("CmdClassIdentity = %q", d.CmdClassIdentity)
	}
	if d.SignatureClass != SignatureNix {
		t.Errorf("SignatureClass = %q", d.SignatureClass)
	}
	if d.ThreadName() != "cmd_queue" {
		t.Errorf("ThreadName() = %q", d.ThreadName())
	}
}

func TestDecodeDescriptorRejectsUnknownSignature(t *testing.T) {
	values := validRowValues()
	values[2] = "unknown_template"
	if _, err := DecodeDescriptor(fakeRow{values: values}); err == nil {
		t.Error("expected error for unrecognized signature class")
	}
}

func TestDecodeDescriptorRejectsNegativeInterval(t *testing.T) {
	values := validRowValues()
	values[5] = -1
	if _, err := DecodeDescriptor(fakeRow{values: values}); err == nil {
		t.Error("expected error for negative reselect_interval_msec")
	}
}

func TestThreadNameTruncates(t *testing.T) {
	d := Descriptor{CmdClassRelname: "a_very_long_relation_name_indeed"}
	if got := d.ThreadName(); len(got) != 15 {
		t.Errorf("ThreadName() = %q, want length 15", got)
	}
}
