package model

import (
	"TalentLink/service/feed"
	"TalentLink/tools/decode"
)

// 身份类型：求职者侧 / 企业侧（雇主）
const (
	KindUser = "user"
	KindHire = "hire"
)

// Marker 未读/已读水位标记。
// 记录“某身份在某会话上”的一个时间戳书签：
//   - last_unreads 里的 Marker = 存储认为最新一条“新消息”的时间戳
//   - last_reads  里的 Marker = 该身份已确认读到的时间戳
// 未读判定用的是 **相等比较** 而不是大小比较：
// unread ⇔ last_unreads[c].timestamp != last_reads[c].timestamp。
// 服务端 MarkRead 把 unread 的值原样拷到 read，两边才会收敛相等；
// 多 tab 并发写都是 last-writer-wins，标记写入幂等可交换。
type Marker struct {
	Timestamp int64 `bson:"timestamp" json:"timestamp"` // Unix ms
}

// Identity 已认证参与者（求职者或企业）。
// 本子系统对它只读，唯一写入是 MarkRead 触发的标记拷贝。
type Identity struct {
	ID   string `bson:"_id" json:"id"`     // 身份ID（外部账号体系给定）
	Kind string `bson:"kind" json:"kind"`  // user / hire

	Conversations []string `bson:"conversations" json:"conversations"` // 所属会话ID集合

	LastUnreads map[string]Marker `bson:"last_unreads" json:"last_unreads"` // conversationID -> 未读水位
	LastReads   map[string]Marker `bson:"last_reads" json:"last_reads"`     // conversationID -> 已读水位

	CreateTime int64 `bson:"create_time" json:"create_time"` // Unix ms
	UpdateTime int64 `bson:"update_time" json:"update_time"` // 最近一次标记/会话集合变更

	// expand=conversations 点查时由服务端内联的会话记录，不落库
	ConversationRecords []Conversation `bson:"-" json:"conversation_records,omitempty"`
}

func (i *Identity) GetTableName() string {
	return "identities"
}

// Unread 按相等契约判断某个会话对该身份是否未读。
// 只有 unread 标记、没有 read 标记 ⇒ 未读；两个都没有 ⇒ 已读（从无活动）。
func (i *Identity) Unread(conversationID string) bool {
	u, hasU := i.LastUnreads[conversationID]
	r, hasR := i.LastReads[conversationID]
	if !hasU {
		return false
	}
	if !hasR {
		return true
	}
	return u.Timestamp != r.Timestamp
}

// IdentityFromRecord 把 feed 快照解码成身份记录。
// 字段缺失不视为错误（malformed 记录按“无数据”处理，由上层清空状态）。
func IdentityFromRecord(rec feed.Record) (*Identity, error) {
	ident, err := decode.DecodeMap[Identity](rec.Data)
	if err != nil {
		return nil, err
	}
	if ident.ID == "" {
		ident.ID = rec.ID
	}
	return ident, nil
}
