package gateway

import (
	"encoding/json"
	"testing"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"action":"chat.send","payload":{"text":"hi"},"ackId":7}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Action != "chat.send" {
		t.Fatalf("action = %q", f.Action)
	}
	if !f.WantsReply() {
		t.Fatalf("numeric ackId should want a reply")
	}
	m, ok := f.DecodedPayload().(map[string]any)
	if !ok || m["text"] != "hi" {
		t.Fatalf("payload = %v", f.DecodedPayload())
	}
}

func TestParseFrameRejectsMissingAction(t *testing.T) {
	if _, err := ParseFrame([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("frame without action must be rejected")
	}
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Fatalf("malformed frame must be rejected")
	}
}

func TestWantsReply(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"action":"a"}`, false},
		{`{"action":"a","ackId":null}`, false},
		{`{"action":"a","ackId":0}`, true},
		{`{"action":"a","ackId":"req-1"}`, true},
	}
	for _, c := range cases {
		f, err := ParseFrame([]byte(c.raw))
		if err != nil {
			t.Fatal(err)
		}
		if got := f.WantsReply(); got != c.want {
			t.Errorf("%s: WantsReply = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestEncodeReplyCarriesAckID(t *testing.T) {
	data, err := EncodeReply(json.RawMessage(`"req-1"`), ReplyEnvelope{Success: true, Data: map[string]any{"n": 1}})
	if err != nil {
		t.Fatal(err)
	}
	var out ReplyFrame
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if string(out.AckID) != `"req-1"` || !out.Success {
		t.Fatalf("reply = %s", data)
	}
}
