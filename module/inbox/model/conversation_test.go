package model

import (
	"testing"

	"TalentLink/service/feed"
)

func TestCounterpart(t *testing.T) {
	c := &Conversation{ID: "c1", Subscribers: []string{"u1", "h1"}}

	if other, ok := c.Counterpart("u1"); !ok || other != "h1" {
		t.Fatalf("counterpart(u1) = %q,%v", other, ok)
	}
	if other, ok := c.Counterpart("h1"); !ok || other != "u1" {
		t.Fatalf("counterpart(h1) = %q,%v", other, ok)
	}
	if _, ok := c.Counterpart("stranger"); ok {
		t.Fatal("non-subscriber must not resolve a counterpart")
	}
}

func TestConversationFromRecord(t *testing.T) {
	rec := feed.Record{
		Collection: feed.CollectionConversations,
		ID:         "c1",
		Data: map[string]any{
			"subscribers": []any{"u1", "h1"},
			"contents": []any{
				// JSON 反序列化出来数字是 float64，弱类型解码要兜住
				map[string]any{"sender_id": "u1", "message": "hi", "timestamp": float64(1700000000123)},
			},
		},
	}
	conv, err := ConversationFromRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.ID != "c1" {
		t.Fatalf("id fallback missing: %q", conv.ID)
	}
	if len(conv.Contents) != 1 || conv.Contents[0].Timestamp != 1700000000123 {
		t.Fatalf("contents = %+v", conv.Contents)
	}
}

func TestIdentityFromRecord(t *testing.T) {
	rec := feed.Record{
		Collection: feed.CollectionIdentities,
		ID:         "u1",
		Data: map[string]any{
			"kind":          KindUser,
			"conversations": []any{"c1"},
			"last_unreads":  map[string]any{"c1": map[string]any{"timestamp": float64(5)}},
		},
	}
	ident, err := IdentityFromRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ident.ID != "u1" || ident.Kind != KindUser {
		t.Fatalf("ident = %+v", ident)
	}
	if !ident.Unread("c1") {
		t.Fatal("unread marker without read marker must report unread")
	}
}
