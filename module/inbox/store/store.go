package store

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"TalentLink/logger"
	"TalentLink/module/inbox/model"
	"TalentLink/service/feed"
	"TalentLink/service/mgo"
	"TalentLink/service/natsx"
	"TalentLink/tools/errs"
)

// Store conversations 域的存储层。
// 每次成功写入后把**全量记录快照**发到 feed 总线（natsx），网关只做
// 转发，永远不做 diff。写入不做乐观锁：标记写入幂等可交换，
// 并发 tab 收敛到最后落盘的那个。
type Store struct {
	bus *natsx.NatsManager
}

func NewStore(bus *natsx.NatsManager) *Store {
	return &Store{bus: bus}
}

func identColl() *mongo.Collection {
	return mgo.GetDB().Collection("identities")
}

func convColl() *mongo.Collection {
	return mgo.GetDB().Collection("conversations")
}

// GetIdentity 点查身份记录；expand 时内联其全部会话记录。
func (s *Store) GetIdentity(ctx context.Context, id string, expand bool) (*model.Identity, error) {
	var ident model.Identity
	err := identColl().FindOne(ctx, bson.M{"_id": id}).Decode(&ident)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrRecordNotFound.WrapMsg("identity", "id", id)
		}
		return nil, errs.Wrap(err)
	}
	if expand && len(ident.Conversations) > 0 {
		convs, err := s.findConversations(ctx, ident.Conversations)
		if err != nil {
			return nil, err
		}
		ident.ConversationRecords = convs
	}
	return &ident, nil
}

// GetConversation 点查会话记录。
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := convColl().FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrRecordNotFound.WrapMsg("conversation", "id", id)
		}
		return nil, errs.Wrap(err)
	}
	return &conv, nil
}

// MarkRead 把 identityID 在 convID 上的已读水位设为当前未读水位
// （拷贝值，不写 now —— 相等契约要求两边字节一致才算已读）。
// 没有未读水位时为 no-op。写入后发布更新后的身份记录。
func (s *Store) MarkRead(ctx context.Context, identityID, convID string) error {
	ident, err := s.GetIdentity(ctx, identityID, false)
	if err != nil {
		return err
	}
	unread, ok := ident.LastUnreads[convID]
	if !ok {
		return nil // 从无活动，无水位可拷
	}
	if r, ok := ident.LastReads[convID]; ok && r.Timestamp == unread.Timestamp {
		// 已收敛；重复标记是幂等的
		s.publishIdentity(ctx, identityID)
		return nil
	}

	// 管道式 $set 引用文档自身字段：拷贝和写入同一次原子更新完成，
	// 期间并发的 AppendMessage 抬了水位也不会拷到旧值
	_, err = identColl().UpdateOne(ctx,
		bson.M{"_id": identityID},
		markReadPipeline(convID, time.Now().UnixMilli()),
	)
	if err != nil {
		return errs.WrapMsg(err, "mark read", "identity", identityID, "conversation", convID)
	}

	s.publishIdentity(ctx, identityID)
	return nil
}

// markReadPipeline 已读水位 = 未读水位的原子拷贝。
// 聚合管道的 $set 可以引用 "$last_unreads.<id>" 当前值，两步合一。
func markReadPipeline(convID string, now int64) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"last_reads." + convID: "$last_unreads." + convID,
			"update_time":          now,
		}}},
	}
}

// AppendMessage 往会话追加一条消息，并抬升对端的未读水位。
// 返回追加后的会话记录。写入后发布会话记录与对端身份记录。
func (s *Store) AppendMessage(ctx context.Context, convID, senderID, body string) (*model.Conversation, error) {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	counterpart, ok := conv.Counterpart(senderID)
	if !ok {
		return nil, errs.ErrNotSubscriber.WrapMsg("append", "conversation", convID, "sender", senderID)
	}

	now := time.Now().UnixMilli()
	msg := model.Message{SenderID: senderID, Message: body, Timestamp: now}

	_, err = convColl().UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$push": bson.M{"contents": msg},
			"$set":  bson.M{"update_time": now},
		},
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "append message", "conversation", convID)
	}

	// 对端未读水位 = 新消息时间戳（last-writer-wins）
	_, err = identColl().UpdateOne(ctx,
		bson.M{"_id": counterpart},
		bson.M{"$set": bson.M{
			"last_unreads." + convID: bson.M{"timestamp": now},
			"update_time":            now,
		}},
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "bump unread", "identity", counterpart)
	}

	conv.Contents = append(conv.Contents, msg)
	conv.UpdateTime = now

	s.publishConversation(ctx, conv)
	s.publishIdentity(ctx, counterpart)
	return conv, nil
}

func (s *Store) findConversations(ctx context.Context, ids []string) ([]model.Conversation, error) {
	cur, err := convColl().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { _ = cur.Close(ctx) }()

	byID := make(map[string]model.Conversation)
	for cur.Next(ctx) {
		var conv model.Conversation
		if err := cur.Decode(&conv); err != nil {
			return nil, errs.Wrap(err)
		}
		byID[conv.ID] = conv
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(err)
	}

	// 保持身份记录里的会话顺序
	out := make([]model.Conversation, 0, len(byID))
	for _, id := range ids {
		if conv, ok := byID[id]; ok {
			out = append(out, conv)
		}
	}
	return out, nil
}

// publishIdentity 把（expand 后的）身份记录快照发上总线。
// 失败只记日志：总线丢一帧，下一次写入会带来更新的快照。
func (s *Store) publishIdentity(ctx context.Context, identityID string) {
	if s.bus == nil {
		return
	}
	ident, err := s.GetIdentity(ctx, identityID, true)
	if err != nil {
		logger.Warnf("[store] publish identity load id=%s err=%v", identityID, err)
		return
	}
	rec, err := toRecord(feed.CollectionIdentities, ident.ID, ident)
	if err != nil {
		logger.Warnf("[store] publish identity encode id=%s err=%v", identityID, err)
		return
	}
	if err := s.bus.Publish(ctx, natsx.BizFeedIdentities, rec, nil); err != nil {
		logger.Warnf("[store] publish identity id=%s err=%v", identityID, err)
	}
}

func (s *Store) publishConversation(ctx context.Context, conv *model.Conversation) {
	if s.bus == nil {
		return
	}
	rec, err := toRecord(feed.CollectionConversations, conv.ID, conv)
	if err != nil {
		logger.Warnf("[store] publish conversation encode id=%s err=%v", conv.ID, err)
		return
	}
	if err := s.bus.Publish(ctx, natsx.BizFeedConversations, rec, nil); err != nil {
		logger.Warnf("[store] publish conversation id=%s err=%v", conv.ID, err)
	}
}

// toRecord 模型 → feed.Record JSON（总线上的帧体）。
func toRecord(collection, id string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return json.Marshal(feed.Record{Collection: collection, ID: id, Data: data})
}
