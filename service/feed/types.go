package feed

import (
	"context"

	"TalentLink/tools/errs"
)

// 集合名（与 Mongo collection 一致）
const (
	CollectionIdentities    = "identities"
	CollectionConversations = "conversations"
)

// Record 一条完整的集合记录快照。订阅投递永远是全量快照，不是 diff。
type Record struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
}

// Filter 单字段等值过滤。本系统只按记录ID订阅（会话记录/身份记录），
// 不需要查询语言。Field == "_id" 时匹配记录ID。
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (f Filter) Match(r Record) bool {
	if f.Field == "" || f.Field == "_id" {
		return r.ID == f.Value
	}
	v, ok := r.Data[f.Field]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == f.Value
}

// Handle 一次有效订阅的不透明句柄。撤销是幂等的：重复 Unsubscribe 为 no-op。
type Handle string

// GetOptions 点查选项。Expand 展开引用字段
// （身份记录 expand=conversations 时内联其全部会话记录）。
type GetOptions struct {
	Expand []string
}

// Client 集合变更流客户端契约。
//   - GetByID 点查一条记录
//   - Subscribe 建立过滤订阅；记录变化时回调投递全量快照。
//     同一订阅的回调由客户端串行调用，后一次投递开始前前一次必已返回。
//   - Unsubscribe 撤销句柄；不存在的句柄为 no-op
//   - OnAuthError 注册凭证失效回调（token 过期/被拒）；由 Lifecycle
//     Controller 用来触发 rebind。回调可能在任意 goroutine 上执行。
type Client interface {
	GetByID(ctx context.Context, collection, id string, opts *GetOptions) (Record, error)
	Subscribe(collection string, filter Filter, onUpdate func(Record)) (Handle, error)
	Unsubscribe(h Handle)
	OnAuthError(fn func())
}

// ErrUnauthorized feed 凭证被拒。调用方应 rebind 而不是重试。
var (
	errUnauthorized              = errs.NewCodeError(errs.TokenExpiredError, "feed credential rejected")
	ErrUnauthorized        error = &errUnauthorized
	errRecordNotFound            = errs.NewCodeError(errs.RecordNotFoundErr, "record not found")
	ErrRecordNotFound      error = &errRecordNotFound
)

func IsUnauthorized(err error) bool {
	return errUnauthorized.Is(err)
}

func IsNotFound(err error) bool {
	return errRecordNotFound.Is(err)
}
