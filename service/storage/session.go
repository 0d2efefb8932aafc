package storage

import (
	"context"
	"encoding/json"
	"time"

	redis2 "TalentLink/service/storage/redis"
	"TalentLink/tools/errs"
	"TalentLink/tools/security"
)

// feed 凭证会话存储：key = feed:sess:<tokenHash>，value = 身份信息 JSON。
// TTL 与凭证一致；凭证过期后网关/API 查不到会话即按 token expired 处理，
// 由客户端 rebind 换新凭证。注销时删 key 即可立刻吊销。

const sessKeyPrefix = "feed:sess:"

type SessionConfig struct {
	TTL time.Duration // 默认 2h，与 security.Options.TTL 对齐
}

type FeedSession struct {
	IdentityID string `json:"identity_id"`
	Kind       string `json:"kind"` // user / hire
	IssuedAt   int64  `json:"issued_at"`  // Unix ms
	ExpireAt   int64  `json:"expire_at"`  // Unix ms
}

type SessionStore struct {
	cfg SessionConfig
}

func NewSessionStore(cfg SessionConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &SessionStore{cfg: cfg}
}

// Save 以 token hash 为键落一条凭证会话。
func (s *SessionStore) Save(ctx context.Context, token string, sess FeedSession) error {
	rdb, ok := redis2.TryGetRedis()
	if !ok {
		return errs.New("redis not initialized")
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return errs.Wrap(err)
	}
	key := sessKeyPrefix + security.HashToken(token)
	return errs.Wrap(rdb.Set(ctx, key, b, s.cfg.TTL).Err())
}

// Load 按 token 取会话；不存在/已过期返回 ErrTokenExpired。
func (s *SessionStore) Load(ctx context.Context, token string) (*FeedSession, error) {
	rdb, ok := redis2.TryGetRedis()
	if !ok {
		return nil, errs.New("redis not initialized")
	}
	key := sessKeyPrefix + security.HashToken(token)
	b, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, errs.ErrTokenExpired.WrapMsg("session not found")
	}
	var sess FeedSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, errs.Wrap(err)
	}
	if sess.ExpireAt > 0 && time.Now().UnixMilli() > sess.ExpireAt {
		return nil, errs.ErrTokenExpired.Wrap()
	}
	return &sess, nil
}

// Revoke 吊销凭证（登出）。不存在为 no-op。
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	rdb, ok := redis2.TryGetRedis()
	if !ok {
		return errs.New("redis not initialized")
	}
	key := sessKeyPrefix + security.HashToken(token)
	return errs.Wrap(rdb.Del(ctx, key).Err())
}
