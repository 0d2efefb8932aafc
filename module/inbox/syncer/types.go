package syncer

import (
	"TalentLink/module/inbox/model"
)

// Ident 显式传入 Open 的当前身份。
// 不做隐式 current identity 单例，换身份是一等过渡。
type Ident struct {
	ID   string
	Kind string // model.KindUser / model.KindHire
}

func (i Ident) Zero() bool { return i.ID == "" }

// ConversationState 会话同步器对外读模型。
// Messages 永远是最近一次快照的全量内容，不做合并与重排。
type ConversationState struct {
	Messages      []model.Message
	CounterpartID string
	Loading       bool
}

// ConversationSummary 收件箱里的一条会话：会话记录 + 该身份的两个水位标记。
// 标记挂在摘要上（由同步器从身份记录取来），不存在会话记录本身上。
// 指针区分“标记缺失”与“标记存在但相等”。
type ConversationSummary struct {
	model.Conversation
	LastUnread *model.Marker
	LastRead   *model.Marker
}

// InboxState 收件箱同步器对外读模型。
type InboxState struct {
	Conversations []ConversationSummary
	Unread        []ConversationSummary
	Loading       bool
}

// MarkSeener “标记已读”副作用的出口。实现必须是 fire-and-forget：
// 不阻塞调用方、失败只记日志不重试（HTTP 实现见 apiclient.go）。
type MarkSeener interface {
	MarkSeen(ident Ident, conversationID string)
}
