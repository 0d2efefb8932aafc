package syncer

import (
	"context"
	"sync"

	"TalentLink/logger"
	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
	"TalentLink/tools/safe"
)

// InboxSyncer 维护当前身份全部会话的权威本地视图，以及派生的未读子集。
// 引导 = 点查身份记录（expand 出会话记录）；保活 = 订阅身份记录本身。
// 每次投递整体重算 conversations/unread，不做增量。
//
// 副作用隔离：收件箱同步器**从不**写已读标记 —— 标记写入只由
// ConversationSyncer（或外部“查看会话”动作）触发，读/未读的事实源
// 保持单点。
type InboxSyncer struct {
	client feed.Client

	mu        sync.Mutex
	epoch     uint64
	handle    feed.Handle
	hasHandle bool
	ident     Ident
	state     InboxState

	updates chan InboxState
}

func NewInboxSyncer(client feed.Client) *InboxSyncer {
	return &InboxSyncer{
		client:  client,
		updates: make(chan InboxState, 16),
	}
}

// Open 绑定到某个身份并开始同步；身份为空 ⇒ 清空状态（未绑定）。
// 换身份：先撤销旧订阅，再为新身份引导（一等过渡，不是隐式副作用）。
func (s *InboxSyncer) Open(ident Ident) {
	s.mu.Lock()
	s.epoch++
	e := s.epoch
	s.teardownLocked()
	s.ident = ident

	if ident.Zero() {
		s.state = InboxState{}
		s.emitLocked()
		s.mu.Unlock()
		return
	}

	s.state = InboxState{Loading: true}
	s.emitLocked()
	s.mu.Unlock()

	safe.Go(func() { s.bootstrap(e, ident) })
}

// Close 撤销订阅；重复调用为 no-op。
func (s *InboxSyncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.teardownLocked()
	s.state.Loading = false
}

func (s *InboxSyncer) State() InboxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneInboxState(s.state)
}

func (s *InboxSyncer) Updates() <-chan InboxState {
	return s.updates
}

func (s *InboxSyncer) bootstrap(e uint64, ident Ident) {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	rec, err := s.client.GetByID(ctx, feed.CollectionIdentities, ident.ID,
		&feed.GetOptions{Expand: []string{"conversations"}})

	s.mu.Lock()
	if s.epoch != e {
		s.mu.Unlock()
		return
	}
	if err != nil {
		logger.Warnf("[inbox-sync] bootstrap read failed ident=%s err=%v", ident.ID, err)
		s.state.Loading = false
		s.emitLocked()
	} else {
		s.applySnapshotLocked(rec)
	}
	s.mu.Unlock()

	h, err := s.client.Subscribe(feed.CollectionIdentities,
		feed.Filter{Field: "_id", Value: ident.ID},
		func(r feed.Record) { s.onDelivery(e, r) },
	)
	if err != nil {
		logger.Errorf("[inbox-sync] subscribe failed ident=%s err=%v", ident.ID, err)
		return
	}

	s.mu.Lock()
	if s.epoch != e {
		s.mu.Unlock()
		s.client.Unsubscribe(h)
		return
	}
	s.handle = h
	s.hasHandle = true
	s.mu.Unlock()
}

func (s *InboxSyncer) onDelivery(e uint64, rec feed.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != e {
		return
	}
	s.applySnapshotLocked(rec)
}

// applySnapshotLocked 从身份记录整体重建 conversations 与 unread。
func (s *InboxSyncer) applySnapshotLocked(rec feed.Record) {
	ident, err := model.IdentityFromRecord(rec)
	if err != nil {
		logger.Warnf("[inbox-sync] malformed snapshot ident=%s err=%v", rec.ID, err)
		s.state = InboxState{}
		s.emitLocked()
		return
	}

	summaries := buildSummaries(ident)
	s.state = InboxState{
		Conversations: summaries,
		Unread:        FilterUnread(summaries),
		Loading:       false,
	}
	s.emitLocked()
}

// buildSummaries 把身份记录上的两组水位标记挂到各会话记录上。
func buildSummaries(ident *model.Identity) []ConversationSummary {
	if len(ident.ConversationRecords) == 0 {
		return nil
	}
	out := make([]ConversationSummary, 0, len(ident.ConversationRecords))
	for _, conv := range ident.ConversationRecords {
		sum := ConversationSummary{Conversation: conv}
		if m, ok := ident.LastUnreads[conv.ID]; ok {
			mm := m
			sum.LastUnread = &mm
		}
		if m, ok := ident.LastReads[conv.ID]; ok {
			mm := m
			sum.LastRead = &mm
		}
		out = append(out, sum)
	}
	return out
}

func (s *InboxSyncer) teardownLocked() {
	if s.hasHandle {
		h := s.handle
		s.hasHandle = false
		s.handle = ""
		s.client.Unsubscribe(h)
	}
}

func (s *InboxSyncer) emitLocked() {
	select {
	case s.updates <- cloneInboxState(s.state):
	default:
	}
}

func cloneInboxState(in InboxState) InboxState {
	out := in
	if in.Conversations != nil {
		out.Conversations = append([]ConversationSummary(nil), in.Conversations...)
	}
	if in.Unread != nil {
		out.Unread = append([]ConversationSummary(nil), in.Unread...)
	}
	return out
}
