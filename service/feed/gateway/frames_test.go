package gateway

import (
	"testing"

	"TalentLink/service/feed"
)

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"sub","collection":"conversations","field":"_id","value":"c1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameSub || f.Collection != "conversations" || f.Value != "c1" {
		t.Fatalf("frame = %+v", f)
	}

	if _, err := ParseFrameJSON([]byte(`{"collection":"x"}`)); err == nil {
		t.Fatal("missing type must fail")
	}
	if _, err := ParseFrameJSON([]byte(`not json`)); err == nil {
		t.Fatal("garbage must fail")
	}
}

func TestSnapshotFrameRoundTrip(t *testing.T) {
	rec := feed.Record{
		Collection: feed.CollectionConversations,
		ID:         "c1",
		Data:       map[string]any{"id": "c1", "subscribers": []any{"u1", "h1"}},
	}
	raw := BuildSnapshot("sid-1", rec).Encode()

	f, err := ParseFrameJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameSnapshot || f.SID != "sid-1" {
		t.Fatalf("frame = %+v", f)
	}
	if f.Record == nil || f.Record.ID != "c1" || f.Record.Collection != feed.CollectionConversations {
		t.Fatalf("record = %+v", f.Record)
	}
}

func TestErrorFrame(t *testing.T) {
	f, err := ParseFrameJSON(BuildError(1001, "bad args").Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameError || f.Code != 1001 || f.Msg != "bad args" {
		t.Fatalf("frame = %+v", f)
	}
}
