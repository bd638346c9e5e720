package runner

import "testing"

func TestParseNotifyPayloadMatchingIdentity(t *testing.T) {
	hint, err := parseNotifyPayload(`(my_queue,"abc-123",)`, "my_queue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hint == nil {
		t.Fatal("expected a hint")
	}
	if hint.CmdID != "abc-123" {
		t.Errorf("CmdID = %q, want abc-123", hint.CmdID)
	}
	if hint.CmdSubID != nil {
		t.Errorf("CmdSubID = %v, want nil", hint.CmdSubID)
	}
}

func TestParseNotifyPayloadWithSubID(t *testing.T) {
	hint, err := parseNotifyPayload(`(my_queue,"abc-123","sub-1")`, "my_queue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hint == nil || hint.CmdSubID == nil || *hint.CmdSubID != "sub-1" {
		t.Fatalf("got %+v, want CmdSubID=sub-1", hint)
	}
}

func TestParseNotifyPayloadOtherQueueIgnored(t *testing.T) {
	hint, err := parseNotifyPayload(`(other_queue,"abc-123",)`, "my_queue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hint != nil {
		t.Errorf("expected nil hint for non-matching identity, got %+v", hint)
	}
}

func TestParseNotifyPayloadMalformed(t *testing.T) {
	if _, err := parseNotifyPayload(`not a composite`, "my_queue"); err == nil {
		t.Error("expected an error for malformed payload")
	}
}

func TestParseNotifyPayloadNullCmdID(t *testing.T) {
	if _, err := parseNotifyPayload(`(my_queue,,)`, "my_queue"); err == nil {
		t.Error("expected an error when cmd_id is NULL")
	}
}
