package syncer

import (
	"context"
	"sync"
	"time"

	"TalentLink/module/inbox/model"
)

// Credential feed 传输凭证（auth 端点换发）。
type Credential struct {
	Token    string
	ExpireAt time.Time
}

// AuthClient 外部 auth 端点：拿当前 web 会话换 feed 凭证 + 身份记录。
// kind 决定打哪个端点（/conversations/auth 或 /conversations/auth/hire）。
type AuthClient interface {
	Auth(ctx context.Context, kind string) (*model.Identity, Credential, error)
}

// Binder 会话绑定器。首次 Bind 走 auth 端点并缓存；之后直接返回缓存。
// Rebind 清缓存重新 Bind（feed 凭证被拒后由 Lifecycle Controller 调用）。
// 不做自动重试：Bind 失败让绑定器停在“未绑定”，调用方按“尚未连接”
// 处理，而不是终态错误。
type Binder struct {
	kind string
	auth AuthClient

	mu    sync.Mutex
	ident *model.Identity
	cred  Credential
	bound bool
}

func NewBinder(kind string, auth AuthClient) *Binder {
	return &Binder{kind: kind, auth: auth}
}

func (b *Binder) Kind() string { return b.kind }

// Bind 返回当前绑定身份；无缓存时调用 auth 端点。
func (b *Binder) Bind(ctx context.Context) (*model.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound {
		return b.ident, nil
	}

	ident, cred, err := b.auth.Auth(ctx, b.kind)
	if err != nil {
		b.ident = nil
		b.cred = Credential{}
		return nil, err
	}
	b.ident = ident
	b.cred = cred
	b.bound = true
	return ident, nil
}

// Rebind 清缓存后重新 Bind。
func (b *Binder) Rebind(ctx context.Context) (*model.Identity, error) {
	b.mu.Lock()
	b.ident = nil
	b.cred = Credential{}
	b.bound = false
	b.mu.Unlock()
	return b.Bind(ctx)
}

// Current 当前绑定身份；未绑定返回 false。
func (b *Binder) Current() (*model.Identity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return nil, false
	}
	return b.ident, true
}

// Credential 当前 feed 凭证；未绑定返回 false。
func (b *Binder) Credential() (Credential, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return Credential{}, false
	}
	return b.cred, true
}

// CurrentIdent Ident 形式的当前身份（传给 Open 用）。
func (b *Binder) CurrentIdent() (Ident, bool) {
	ident, ok := b.Current()
	if !ok || ident == nil {
		return Ident{}, false
	}
	return Ident{ID: ident.ID, Kind: b.kind}, true
}
