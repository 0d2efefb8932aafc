package model

import (
	"TalentLink/service/feed"
	"TalentLink/tools/decode"
)

// Message 会话内一条消息。创建后不可变；
// 时间戳由存储按投递顺序给出，会话内单调不降。
type Message struct {
	SenderID  string `bson:"sender_id" json:"sender_id"` // 发送者身份ID
	Message   string `bson:"message" json:"message"`     // 正文
	Timestamp int64  `bson:"timestamp" json:"timestamp"` // Unix ms
}

// Conversation 一次求职者↔企业的会话。
// 订阅者恒为两个身份；会话的创建/销毁在外部（投递流程），
// 本子系统只观察读取与追加。
type Conversation struct {
	ID string `bson:"_id" json:"id"` // 会话ID

	Subscribers []string  `bson:"subscribers" json:"subscribers"` // [userID, hireID]，恒为2
	Contents    []Message `bson:"contents" json:"contents"`       // 插入顺序 = 时间顺序，append-only

	CreateTime int64 `bson:"create_time" json:"create_time"` // Unix ms
	UpdateTime int64 `bson:"update_time" json:"update_time"` // 最近一次追加
}

func (c *Conversation) GetTableName() string {
	return "conversations"
}

// Counterpart 返回 subscribers 里不等于 selfID 的那一个。
// selfID 不在订阅者集合里时返回 false（malformed，按无数据处理）。
func (c *Conversation) Counterpart(selfID string) (string, bool) {
	found := false
	other := ""
	for _, s := range c.Subscribers {
		if s == selfID {
			found = true
		} else if other == "" {
			other = s
		}
	}
	if !found || other == "" {
		return "", false
	}
	return other, true
}

// ConversationFromRecord 把 feed 快照解码成会话记录。
func ConversationFromRecord(rec feed.Record) (*Conversation, error) {
	conv, err := decode.DecodeMap[Conversation](rec.Data)
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = rec.ID
	}
	return conv, nil
}
