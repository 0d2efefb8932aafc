package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"TalentLink/logger"
	"TalentLink/module/inbox/model"
	"TalentLink/tools/safe"
)

// APIClient conversations HTTP API 的客户端实现：
//   - AuthClient：POST /conversations/auth[/hire] 换 feed 凭证 + 身份记录
//   - MarkSeener：POST /conversations/read[/hire]/{id}，fire-and-forget
type APIClient struct {
	base    string // 形如 http://host:port
	session string // 市场侧 web 会话令牌（换凭证用）
	hc      *http.Client

	credSource func() (Credential, bool) // 标记调用要带的 feed 凭证（通常挂 Binder.Credential）
}

func NewAPIClient(base, session string) *APIClient {
	return &APIClient{
		base:    base,
		session: session,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetCredentialSource 注入 feed 凭证来源（Binder.Credential）。
func (a *APIClient) SetCredentialSource(src func() (Credential, bool)) {
	a.credSource = src
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type authData struct {
	Token    string          `json:"token"`
	ExpireAt int64           `json:"expire_at"` // Unix ms
	Identity *model.Identity `json:"identity"`
}

// Auth 实现 AuthClient。
func (a *APIClient) Auth(ctx context.Context, kind string) (*model.Identity, Credential, error) {
	path := "/conversations/auth"
	if kind == model.KindHire {
		path = "/conversations/auth/hire"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(nil))
	if err != nil {
		return nil, Credential{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.session)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, Credential{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, Credential{}, fmt.Errorf("auth endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Credential{}, err
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, Credential{}, err
	}
	if env.Code != 0 {
		return nil, Credential{}, fmt.Errorf("auth endpoint code %d: %s", env.Code, env.Msg)
	}
	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, Credential{}, err
	}
	if data.Identity == nil || data.Token == "" {
		return nil, Credential{}, fmt.Errorf("auth endpoint returned empty identity/token")
	}
	return data.Identity, Credential{
		Token:    data.Token,
		ExpireAt: time.UnixMilli(data.ExpireAt),
	}, nil
}

// MarkSeen 实现 MarkSeener：不阻塞调用方，失败只记日志不重试。
func (a *APIClient) MarkSeen(ident Ident, conversationID string) {
	safe.Go(func() {
		path := "/conversations/read/" + conversationID
		if ident.Kind == model.KindHire {
			path = "/conversations/read/hire/" + conversationID
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(nil))
		if err != nil {
			logger.Warnf("[api] mark seen build request conv=%s err=%v", conversationID, err)
			return
		}
		if a.credSource != nil {
			if cred, ok := a.credSource(); ok {
				req.Header.Set("Authorization", "Bearer "+cred.Token)
			}
		}

		resp, err := a.hc.Do(req)
		if err != nil {
			logger.Warnf("[api] mark seen conv=%s err=%v", conversationID, err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			logger.Warnf("[api] mark seen conv=%s status=%d", conversationID, resp.StatusCode)
		}
	})
}
