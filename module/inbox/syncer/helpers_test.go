package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
)

// waitUntil 轮询到条件成立；超时 fail。异步引导用。
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// countingMarker 同步计数的 MarkSeener 假件。
type countingMarker struct {
	mu    sync.Mutex
	calls []string // conversationID 序列
}

func (m *countingMarker) MarkSeen(_ Ident, conversationID string) {
	m.mu.Lock()
	m.calls = append(m.calls, conversationID)
	m.mu.Unlock()
}

func (m *countingMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// fakeAuth 固定身份的 AuthClient 假件。
type fakeAuth struct {
	mu    sync.Mutex
	ident *model.Identity
	err   error
	calls int
}

func (f *fakeAuth) Auth(_ context.Context, kind string) (*model.Identity, Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, Credential{}, f.err
	}
	cred := Credential{Token: "tok", ExpireAt: time.Now().Add(time.Hour)}
	return f.ident, cred, nil
}

func (f *fakeAuth) authCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func convRecord(id string, subscribers []string, msgs ...model.Message) feed.Record {
	contents := make([]any, 0, len(msgs))
	for _, m := range msgs {
		contents = append(contents, map[string]any{
			"sender_id": m.SenderID,
			"message":   m.Message,
			"timestamp": m.Timestamp,
		})
	}
	subs := make([]any, 0, len(subscribers))
	for _, s := range subscribers {
		subs = append(subs, s)
	}
	return feed.Record{
		Collection: feed.CollectionConversations,
		ID:         id,
		Data: map[string]any{
			"id":          id,
			"subscribers": subs,
			"contents":    contents,
		},
	}
}

// identRecord 身份记录快照。conversation_records 内联（点查 expand 与
// 总线投递都是这个形状）。
func identRecord(id, kind string, convs []feed.Record, unreads, reads map[string]int64) feed.Record {
	convRecs := make([]any, 0, len(convs))
	convIDs := make([]any, 0, len(convs))
	for _, c := range convs {
		convRecs = append(convRecs, c.Data)
		convIDs = append(convIDs, c.ID)
	}
	lu := map[string]any{}
	for c, ts := range unreads {
		lu[c] = map[string]any{"timestamp": ts}
	}
	lr := map[string]any{}
	for c, ts := range reads {
		lr[c] = map[string]any{"timestamp": ts}
	}
	return feed.Record{
		Collection: feed.CollectionIdentities,
		ID:         id,
		Data: map[string]any{
			"id":                   id,
			"kind":                 kind,
			"conversations":        convIDs,
			"conversation_records": convRecs,
			"last_unreads":         lu,
			"last_reads":           lr,
		},
	}
}
