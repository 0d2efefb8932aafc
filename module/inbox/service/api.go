package service

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mid "TalentLink/middleware"
	midsec "TalentLink/middleware/security"
	"TalentLink/module/inbox/model"
	"TalentLink/module/inbox/store"
	"TalentLink/service/feed"
	"TalentLink/service/storage"
	"TalentLink/tools/errs"
	jwtlib "TalentLink/tools/security"
)

// SessionResolver 把市场侧 web 会话解析成身份ID。
// 会话签发在本子系统之外；默认实现直接取 Bearer 值当身份ID
// （部署时替换成真正的会话校验）。
type SessionResolver func(c *gin.Context, kind string) (string, error)

func DefaultSessionResolver(c *gin.Context, _ string) (string, error) {
	token := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	if token == "" {
		return "", errs.ErrTokenInvalid.Wrap()
	}
	return token, nil
}

// API conversations HTTP 端点。
//   - POST /conversations/auth[/hire]     市场会话 → feed 凭证 + 身份记录
//   - POST /conversations/read[/hire]/:id 标记已读（幂等）
//   - GET  /conversations/record/:collection/:id 点查（feed 客户端 GetByID 用）
//   - POST /conversations/send/:id        追加消息（抬对端未读水位）
type API struct {
	store    *store.Store
	sessions *storage.SessionStore
	jwtOpts  jwtlib.Options
	resolve  SessionResolver
}

func NewAPI(st *store.Store, sessions *storage.SessionStore, jwtOpts jwtlib.Options, resolve SessionResolver) *API {
	if resolve == nil {
		resolve = DefaultSessionResolver
	}
	return &API{store: st, sessions: sessions, jwtOpts: jwtOpts, resolve: resolve}
}

func (a *API) authOpt() mid.RouteOpt {
	return mid.RouteOpt{IsAuth: true, Auth: midsec.Options{JWT: a.jwtOpts, Sessions: a.sessions}}
}

// Register 挂载全部路由。
func (a *API) Register(r gin.IRoutes) {
	mid.POST(r, "/conversations/auth", a.handleAuth(model.KindUser), mid.RouteOpt{})
	mid.POST(r, "/conversations/auth/hire", a.handleAuth(model.KindHire), mid.RouteOpt{})

	mid.POST(r, "/conversations/read/:id", a.handleRead(model.KindUser), a.authOpt())
	mid.POST(r, "/conversations/read/hire/:id", a.handleRead(model.KindHire), a.authOpt())

	mid.GET(r, "/conversations/record/:collection/:id", a.handleRecord, a.authOpt())
	mid.POST(r, "/conversations/send/:id", a.handleSend, a.authOpt())
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
}

func fail(c *gin.Context, status int, ce errs.CodeError) {
	c.JSON(status, ce)
}

func (a *API) handleAuth(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID, err := a.resolve(c, kind)
		if err != nil {
			fail(c, http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}

		ident, err := a.store.GetIdentity(c.Request.Context(), identityID, false)
		if err != nil {
			fail(c, http.StatusNotFound, errs.ErrRecordNotFound.WithDetail("identity"))
			return
		}
		if ident.Kind != "" && ident.Kind != kind {
			// user 端点换 hire 身份（或反过来）直接拒绝
			fail(c, http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("kind mismatch"))
			return
		}

		token, _, expireAt, err := jwtlib.Generate(a.jwtOpts, ident.ID, kind)
		if err != nil {
			fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
			return
		}
		now := time.Now()
		sess := storage.FeedSession{
			IdentityID: ident.ID,
			Kind:       kind,
			IssuedAt:   now.UnixMilli(),
			ExpireAt:   expireAt.UnixMilli(),
		}
		if err := a.sessions.Save(c.Request.Context(), token, sess); err != nil {
			fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
			return
		}

		ok(c, gin.H{
			"token":     token,
			"expire_at": expireAt.UnixMilli(),
			"identity":  ident,
		})
	}
}

func (a *API) handleRead(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID := c.GetString(midsec.CtxIdentityKey)
		if c.GetString(midsec.CtxKindKey) != kind {
			fail(c, http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("kind mismatch"))
			return
		}
		convID := c.Param("id")
		if convID == "" {
			fail(c, http.StatusBadRequest, errs.ErrArgs)
			return
		}
		if err := a.store.MarkRead(c.Request.Context(), identityID, convID); err != nil {
			fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
			return
		}
		ok(c, nil)
	}
}

// handleRecord feed 客户端的点查。只放行自己的身份记录、
// 自己参与的会话记录。
func (a *API) handleRecord(c *gin.Context) {
	identityID := c.GetString(midsec.CtxIdentityKey)
	collection := c.Param("collection")
	id := c.Param("id")
	expand := strings.Contains(c.Query("expand"), "conversations")

	switch collection {
	case feed.CollectionIdentities:
		if id != identityID {
			fail(c, http.StatusForbidden, errs.ErrTokenInvalid.WithDetail("not own record"))
			return
		}
		ident, err := a.store.GetIdentity(c.Request.Context(), id, expand)
		if err != nil {
			fail(c, http.StatusNotFound, errs.ErrRecordNotFound)
			return
		}
		a.respondRecord(c, collection, id, ident)

	case feed.CollectionConversations:
		conv, err := a.store.GetConversation(c.Request.Context(), id)
		if err != nil {
			fail(c, http.StatusNotFound, errs.ErrRecordNotFound)
			return
		}
		if _, isSub := conv.Counterpart(identityID); !isSub {
			fail(c, http.StatusForbidden, errs.ErrNotSubscriber)
			return
		}
		a.respondRecord(c, collection, id, conv)

	default:
		fail(c, http.StatusBadRequest, errs.ErrArgs.WithDetail("unknown collection"))
	}
}

func (a *API) handleSend(c *gin.Context) {
	identityID := c.GetString(midsec.CtxIdentityKey)
	convID := c.Param("id")

	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		fail(c, http.StatusBadRequest, errs.ErrArgs)
		return
	}

	conv, err := a.store.AppendMessage(c.Request.Context(), convID, identityID, body.Message)
	if err != nil {
		if errs.ErrNotSubscriber.Is(err) {
			fail(c, http.StatusForbidden, errs.ErrNotSubscriber)
			return
		}
		fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
		return
	}
	ok(c, conv)
}

// respondRecord 统一的 feed.Record 包装。
func (a *API) respondRecord(c *gin.Context, collection, id string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		fail(c, http.StatusInternalServerError, errs.ErrInternalServer)
		return
	}
	ok(c, feed.Record{Collection: collection, ID: id, Data: data})
}
