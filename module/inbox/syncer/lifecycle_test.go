package syncer

import (
	"context"
	"errors"
	"testing"

	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
)

func newTestController(mem *feed.Memory, auth *fakeAuth) *Controller {
	binder := NewBinder(model.KindUser, auth)
	return NewController(binder, mem, &countingMarker{})
}

func TestControllerStartOpensInbox(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser,
		[]feed.Record{convRecord("x", []string{"u1", "h1"})}, nil, nil))
	auth := &fakeAuth{ident: &model.Identity{ID: "u1", Kind: model.KindUser}}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, func() bool { return len(c.Inbox().State().Conversations) == 1 })
	if auth.authCalls() != 1 {
		t.Fatalf("auth calls = %d, want 1", auth.authCalls())
	}
}

func TestControllerStartFailureIsRetryable(t *testing.T) {
	mem := feed.NewMemory()
	auth := &fakeAuth{err: errors.New("auth endpoint down")}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("start must surface bind failure")
	}
	if mem.WatchCount() != 0 {
		t.Fatal("failed bind must not leave subscriptions behind")
	}

	// 未绑定不是终态：端点恢复后重试 Start 即可
	auth.mu.Lock()
	auth.err = nil
	auth.ident = &model.Identity{ID: "u1", Kind: model.KindUser}
	auth.mu.Unlock()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	waitUntil(t, func() bool { return mem.WatchCount() == 1 })
}

func TestControllerActiveConversation(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))
	mem.Put(convRecord("c1", []string{"u1", "h1"},
		model.Message{SenderID: "h1", Message: "hi", Timestamp: 1}))
	auth := &fakeAuth{ident: &model.Identity{ID: "u1", Kind: model.KindUser}}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.SetActiveConversation("c1")
	waitUntil(t, func() bool { return len(c.Conversation().State().Messages) == 1 })
	waitUntil(t, func() bool { return mem.WatchCount() == 2 }) // inbox + conv

	// 离开会话视图：会话订阅立刻撤销，收件箱订阅保留
	c.SetActiveConversation("")
	waitUntil(t, func() bool { return mem.WatchCount() == 1 })

	// 同值重复设置为 no-op
	c.SetActiveConversation("")
	if mem.WatchCount() != 1 {
		t.Fatal("repeated clear must be a no-op")
	}
}

func TestControllerRebindsOnAuthError(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))
	mem.Put(convRecord("c1", []string{"u1", "h1"},
		model.Message{SenderID: "h1", Message: "hi", Timestamp: 1}))
	auth := &fakeAuth{ident: &model.Identity{ID: "u1", Kind: model.KindUser}}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.SetActiveConversation("c1")
	waitUntil(t, func() bool { return mem.WatchCount() == 2 })

	// 凭证被拒：自动 rebind 并重开两个同步器，调用方无感
	mem.FailAuth()
	if auth.authCalls() != 2 {
		t.Fatalf("auth calls = %d, want rebind to re-auth", auth.authCalls())
	}
	waitUntil(t, func() bool {
		return mem.WatchCount() == 2 &&
			len(c.Conversation().State().Messages) == 1
	})
}

func TestControllerRebindFailureClosesAll(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))
	auth := &fakeAuth{ident: &model.Identity{ID: "u1", Kind: model.KindUser}}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, func() bool { return mem.WatchCount() == 1 })

	auth.mu.Lock()
	auth.err = errors.New("session gone")
	auth.mu.Unlock()

	mem.FailAuth()
	waitUntil(t, func() bool { return mem.WatchCount() == 0 })
}

func TestControllerStopIdempotent(t *testing.T) {
	mem := feed.NewMemory()
	mem.Put(identRecord("u1", model.KindUser, nil, nil, nil))
	auth := &fakeAuth{ident: &model.Identity{ID: "u1", Kind: model.KindUser}}

	c := newTestController(mem, auth)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, func() bool { return mem.WatchCount() == 1 })

	c.Stop()
	c.Stop()
	if mem.WatchCount() != 0 {
		t.Fatalf("stop must revoke everything, watches=%d", mem.WatchCount())
	}
}
