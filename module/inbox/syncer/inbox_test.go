package syncer

import (
	"testing"

	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
)

func TestInboxBootstrapBuildsSummaries(t *testing.T) {
	mem := feed.NewMemory()
	convX := convRecord("x", []string{"u1", "h1"},
		model.Message{SenderID: "h1", Message: "offer", Timestamp: 5},
	)
	convY := convRecord("y", []string{"u1", "h2"})
	mem.Put(identRecord("u1", model.KindUser, []feed.Record{convX, convY},
		map[string]int64{"x": 5}, // x 有未读水位、无已读水位
		nil,
	))

	s := NewInboxSyncer(mem)
	s.Open(alice)
	waitUntil(t, func() bool { return len(s.State().Conversations) == 2 })

	st := s.State()
	if st.Loading {
		t.Fatal("loading must clear after bootstrap")
	}
	if len(st.Unread) != 1 || st.Unread[0].ID != "x" {
		t.Fatalf("unread = %+v, want exactly [x]", st.Unread)
	}
	if st.Conversations[0].ID != "x" || st.Conversations[1].ID != "y" {
		t.Fatalf("conversation order not preserved: %+v", st.Conversations)
	}
	if st.Conversations[0].LastUnread == nil || st.Conversations[0].LastUnread.Timestamp != 5 {
		t.Fatalf("marker not attached: %+v", st.Conversations[0])
	}
}

func TestInboxUnreadClearsAfterMarkRead(t *testing.T) {
	mem := feed.NewMemory()
	convX := convRecord("x", []string{"u1", "h1"},
		model.Message{SenderID: "h1", Message: "offer", Timestamp: 5},
	)
	mem.Put(identRecord("u1", model.KindUser, []feed.Record{convX},
		map[string]int64{"x": 5}, nil))

	s := NewInboxSyncer(mem)
	s.Open(alice)
	waitUntil(t, func() bool { return len(s.State().Unread) == 1 })

	// 服务端 MarkRead 落盘后重新发布身份记录：水位拷贝成相等
	mem.Put(identRecord("u1", model.KindUser, []feed.Record{convX},
		map[string]int64{"x": 5}, map[string]int64{"x": 5}))
	waitUntil(t, func() bool { return len(s.State().Unread) == 0 })

	if len(s.State().Conversations) != 1 {
		t.Fatal("conversation list must survive the unread flip")
	}

	// 新消息抬水位：又回到未读
	mem.Put(identRecord("u1", model.KindUser, []feed.Record{convX},
		map[string]int64{"x": 6}, map[string]int64{"x": 5}))
	waitUntil(t, func() bool { return len(s.State().Unread) == 1 })
}

func TestInboxZeroIdentityClears(t *testing.T) {
	mem := feed.NewMemory()
	s := NewInboxSyncer(mem)

	s.Open(Ident{})
	st := s.State()
	if st.Loading || len(st.Conversations) != 0 {
		t.Fatalf("zero identity must clear state, got %+v", st)
	}
	if mem.WatchCount() != 0 {
		t.Fatal("zero identity must not subscribe")
	}
}

func TestInboxSwitchIdentity(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser,
		[]feed.Record{convRecord("x", []string{"u1", "h1"})}, nil, nil))
	mem.Put(identRecord("u2", model.KindUser,
		[]feed.Record{convRecord("p", []string{"u2", "h9"}), convRecord("q", []string{"u2", "h9"})},
		nil, nil))

	s := NewInboxSyncer(mem)
	s.Open(alice)
	waitUntil(t, func() bool { return len(s.State().Conversations) == 1 })

	s.Open(Ident{ID: "u2", Kind: model.KindUser})
	waitUntil(t, func() bool {
		return len(s.State().Conversations) == 2 && mem.WatchCount() == 1
	})

	// 旧身份的投递不能串台
	mem.Put(identRecord("u1", model.KindUser,
		[]feed.Record{convRecord("x", []string{"u1", "h1"})},
		map[string]int64{"x": 9}, nil))
	if st := s.State(); len(st.Conversations) != 2 || len(st.Unread) != 0 {
		t.Fatalf("stale identity delivery leaked: %+v", st)
	}
}

func TestInboxCloseRevokes(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))

	s := NewInboxSyncer(mem)
	s.Open(alice)
	waitUntil(t, func() bool { return mem.WatchCount() == 1 })

	s.Close()
	s.Close()
	if mem.WatchCount() != 0 {
		t.Fatalf("close must revoke, watches=%d", mem.WatchCount())
	}
}
