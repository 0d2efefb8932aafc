package syncer

import (
	"testing"

	"TalentLink/module/inbox/model"
)

func mk(ts int64) *model.Marker { return &model.Marker{Timestamp: ts} }

func TestFilterUnread(t *testing.T) {
	cases := []struct {
		name   string
		unread *model.Marker
		read   *model.Marker
		want   bool
	}{
		{"both missing", nil, nil, false},
		{"unread only", mk(5), nil, true},
		{"read only", nil, mk(5), false},
		{"equal markers", mk(5), mk(5), false},
		{"unread ahead", mk(6), mk(5), true},
		// 相等比较：read 跑到 unread 前面也算未读（存储不该让这发生，
		// 但契约是 != 而不是 >）
		{"read ahead", mk(5), mk(6), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := []ConversationSummary{{
				Conversation: model.Conversation{ID: "c1"},
				LastUnread:   tc.unread,
				LastRead:     tc.read,
			}}
			got := FilterUnread(in)
			if (len(got) == 1) != tc.want {
				t.Fatalf("unread=%v read=%v: got %d entries, want unread=%v",
					tc.unread, tc.read, len(got), tc.want)
			}
		})
	}
}

func TestFilterUnreadKeepsOrder(t *testing.T) {
	in := []ConversationSummary{
		{Conversation: model.Conversation{ID: "a"}, LastUnread: mk(1)},
		{Conversation: model.Conversation{ID: "b"}, LastUnread: mk(2), LastRead: mk(2)},
		{Conversation: model.Conversation{ID: "c"}, LastUnread: mk(3), LastRead: mk(1)},
	}
	got := FilterUnread(in)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("got %+v, want [a c]", got)
	}
}

func TestIdentityUnreadConverges(t *testing.T) {
	// 新消息抬未读水位 → 未读；MarkRead 拷贝同值 → 已读；
	// 再来一条新消息 → 又未读。
	ident := &model.Identity{
		ID:          "u1",
		LastUnreads: map[string]model.Marker{"c1": {Timestamp: 5}},
		LastReads:   map[string]model.Marker{"c1": {Timestamp: 5}},
	}
	if ident.Unread("c1") {
		t.Fatal("equal markers must read as seen")
	}

	ident.LastUnreads["c1"] = model.Marker{Timestamp: 6}
	if !ident.Unread("c1") {
		t.Fatal("bumped unread watermark must flip to unread")
	}

	ident.LastReads["c1"] = model.Marker{Timestamp: 6}
	if ident.Unread("c1") {
		t.Fatal("copied watermark must converge back to read")
	}

	if ident.Unread("never-seen") {
		t.Fatal("conversation without markers must not be unread")
	}
}
