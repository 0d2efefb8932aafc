package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"TalentLink/service/storage"
	jwtlib "TalentLink/tools/security"
	"TalentLink/tools/errs"
)

// —— context key ——
// 后续 handler 统一用这几个 key 读取
const (
	CtxIdentityKey = "feedIdentityId" // string
	CtxKindKey     = "feedKind"       // string（user/hire）
	CtxTokenKey    = "feedToken"      // string
)

type Options struct {
	JWT      jwtlib.Options
	Sessions *storage.SessionStore
}

// Middleware 校验 feed 凭证：JWT 验签 + redis 会话存在。
// 任一失败返回 401 + ErrTokenExpired —— 客户端拿到 401 触发 rebind，
// 不视为致命错误。
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}

		claims, err := jwtlib.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired)
			return
		}

		if opts.Sessions != nil {
			sess, err := opts.Sessions.Load(c.Request.Context(), token)
			if err != nil {
				// 会话被吊销/过期：与 JWT 过期同样处理
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired)
				return
			}
			if sess.IdentityID != claims.IdentityID() {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
				return
			}
		}

		c.Set(CtxIdentityKey, claims.IdentityID())
		c.Set(CtxKindKey, claims.Kind())
		c.Set(CtxTokenKey, token)
		c.Next()
	}
}
