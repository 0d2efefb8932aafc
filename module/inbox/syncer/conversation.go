package syncer

import (
	"context"
	"strings"
	"sync"
	"time"

	"TalentLink/logger"
	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
	"TalentLink/tools/safe"
)

const bootstrapTimeout = 10 * time.Second

// ConversationSyncer 维护单个会话的权威本地视图：
// 点查引导 + 过滤订阅保活，每次快照全量替换消息列表（last-delivered-wins）。
// 同一实例任一时刻至多一个活跃订阅；Open 换会话先拆旧再建新。
//
// 迟到的点查/投递结果用 epoch 挡掉：Close/重新 Open 都会递增 epoch，
// 携带旧 epoch 的异步完成一律丢弃，不会污染实例状态。
type ConversationSyncer struct {
	client feed.Client
	marker MarkSeener

	mu        sync.Mutex
	epoch     uint64
	handle    feed.Handle
	hasHandle bool
	ident     Ident
	convID    string
	state     ConversationState

	updates chan ConversationState
}

func NewConversationSyncer(client feed.Client, marker MarkSeener) *ConversationSyncer {
	return &ConversationSyncer{
		client:  client,
		marker:  marker,
		updates: make(chan ConversationState, 16),
	}
}

// Open 绑定到 (identity, conversationID) 并开始同步。
// identity 为空或 conversationID 为空白：立即清空状态、不发读也不订阅
// （身份仍在解析中的防闪烁守卫）。
func (s *ConversationSyncer) Open(ident Ident, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)

	s.mu.Lock()
	s.epoch++
	e := s.epoch
	s.teardownLocked()
	s.ident = ident
	s.convID = conversationID

	if ident.Zero() || conversationID == "" {
		s.state = ConversationState{}
		s.emitLocked()
		s.mu.Unlock()
		return
	}

	s.state = ConversationState{Loading: true}
	s.emitLocked()
	s.mu.Unlock()

	safe.Go(func() { s.bootstrap(e, ident, conversationID) })
}

// Close 撤销活跃订阅（若有）。重复调用为 no-op。
func (s *ConversationSyncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++ // 作废在途的点查/投递
	s.teardownLocked()
	s.state.Loading = false
}

// State 当前读模型快照。
func (s *ConversationSyncer) State() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConvState(s.state)
}

// Updates 状态变更通知。缓冲满时丢弃（以 State() 为准）。
func (s *ConversationSyncer) Updates() <-chan ConversationState {
	return s.updates
}

func (s *ConversationSyncer) bootstrap(e uint64, ident Ident, convID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	rec, err := s.client.GetByID(ctx, feed.CollectionConversations, convID, nil)

	s.mu.Lock()
	if s.epoch != e {
		s.mu.Unlock()
		return
	}

	markSeen := false
	if err != nil {
		// 瞬时失败只记日志；loading 清掉，等订阅把数据带回来
		logger.Warnf("[conv-sync] bootstrap read failed conv=%s err=%v", convID, err)
		s.state.Loading = false
		s.emitLocked()
	} else {
		markSeen = s.applySnapshotLocked(ident, rec)
	}
	s.mu.Unlock()

	if markSeen {
		s.marker.MarkSeen(ident, convID)
	}

	h, err := s.client.Subscribe(feed.CollectionConversations,
		feed.Filter{Field: "_id", Value: convID},
		func(r feed.Record) { s.onDelivery(e, ident, convID, r) },
	)
	if err != nil {
		logger.Errorf("[conv-sync] subscribe failed conv=%s err=%v", convID, err)
		return
	}

	s.mu.Lock()
	if s.epoch != e {
		// Open/Close 抢先了：这条订阅已经没人要
		s.mu.Unlock()
		s.client.Unsubscribe(h)
		return
	}
	s.handle = h
	s.hasHandle = true
	s.mu.Unlock()
}

func (s *ConversationSyncer) onDelivery(e uint64, ident Ident, convID string, rec feed.Record) {
	s.mu.Lock()
	if s.epoch != e {
		s.mu.Unlock()
		return
	}
	markSeen := s.applySnapshotLocked(ident, rec)
	s.mu.Unlock()

	if markSeen {
		s.marker.MarkSeen(ident, convID)
	}
}

// applySnapshotLocked 全量替换本地状态。返回是否需要补发 mark-seen：
// 引导首帧、或内容相对当前快照发生了变化时需要；
// 内容原样的重复投递不再触发（对应“打开只标记一次”的性质）。
func (s *ConversationSyncer) applySnapshotLocked(ident Ident, rec feed.Record) bool {
	conv, err := model.ConversationFromRecord(rec)
	if err != nil {
		logger.Warnf("[conv-sync] malformed snapshot conv=%s err=%v", rec.ID, err)
		s.state = ConversationState{}
		s.emitLocked()
		return false
	}

	counterpart, ok := conv.Counterpart(ident.ID)
	if !ok {
		// 当前身份不在订阅者集合里：按无数据处理
		logger.Warnf("[conv-sync] no counterpart conv=%s ident=%s", conv.ID, ident.ID)
		s.state = ConversationState{}
		s.emitLocked()
		return false
	}

	first := s.state.Loading
	changed := !contentsEqual(s.state.Messages, conv.Contents)
	s.state = ConversationState{
		Messages:      conv.Contents,
		CounterpartID: counterpart,
		Loading:       false,
	}
	s.emitLocked()
	return first || changed
}

func (s *ConversationSyncer) teardownLocked() {
	if s.hasHandle {
		h := s.handle
		s.hasHandle = false
		s.handle = ""
		s.client.Unsubscribe(h)
	}
}

func (s *ConversationSyncer) emitLocked() {
	select {
	case s.updates <- cloneConvState(s.state):
	default:
	}
}

func cloneConvState(in ConversationState) ConversationState {
	out := in
	if in.Messages != nil {
		out.Messages = append([]model.Message(nil), in.Messages...)
	}
	return out
}

func contentsEqual(a, b []model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
