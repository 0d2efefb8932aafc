package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TalentLink/logger"
	"TalentLink/tools/errs"
	"TalentLink/tools/safe"
)

// TokenSource 提供当前 feed 凭证。凭证由 Binder 持有，客户端每次
// 建连/点查时取最新值，rebind 之后无需重建客户端。
type TokenSource func() (string, bool)

const (
	dialTimeout  = 10 * time.Second
	subAckWait   = 10 * time.Second
	wsWriteWait  = 10 * time.Second
	feedWSPath   = "/conversations/feed"
	recordPrefix = "/conversations/record/"
)

// WSClient Client 的网关实现：
//   - GetByID 走 HTTP 点查端点
//   - Subscribe/Unsubscribe 走 websocket 帧（懒建连，auth 首帧）
//   - 网关以 4401 关闭、或点查返回 401 时触发 OnAuthError 回调
//
// 同一条连接上的 snapshot 由读循环串行分发，满足回调串行约定。
type WSClient struct {
	base   string // http://host:port
	tokens TokenSource
	hc     *http.Client
	dialer *websocket.Dialer

	// 协议里 suback 不带关联ID，sub→suback 必须整段串行。
	// subMu 把并发 Subscribe 排成队而不是拒掉：rebind 后收件箱和会话
	// 两个同步器会同时重订阅，谁都不能丢。
	subMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[Handle]*wsWatch
	subWait chan subResult // 当前在途 sub 的等待槽（subMu 保证至多一个）
	gen     int            // 连接代数，旧读循环退出时不清新连接

	writeMu sync.Mutex

	authMu  sync.Mutex
	authFns []func()
}

type wsWatch struct {
	onUpdate func(Record)
}

type subResult struct {
	sid string
	err error
}

func NewWSClient(base string, tokens TokenSource) *WSClient {
	return &WSClient{
		base:   strings.TrimRight(base, "/"),
		tokens: tokens,
		hc:     &http.Client{Timeout: dialTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		subs:   make(map[Handle]*wsWatch),
	}
}

// OnAuthError 实现 Client。
func (c *WSClient) OnAuthError(fn func()) {
	if fn == nil {
		return
	}
	c.authMu.Lock()
	c.authFns = append(c.authFns, fn)
	c.authMu.Unlock()
}

func (c *WSClient) fireAuthError() {
	c.authMu.Lock()
	fns := make([]func(), len(c.authFns))
	copy(fns, c.authFns)
	c.authMu.Unlock()
	for _, fn := range fns {
		f := fn
		safe.Go(f)
	}
}

// GetByID 实现 Client。
func (c *WSClient) GetByID(ctx context.Context, collection, id string, opts *GetOptions) (Record, error) {
	token, ok := c.tokens()
	if !ok {
		return Record{}, ErrUnauthorized
	}

	url := c.base + recordPrefix + collection + "/" + id
	if opts != nil && len(opts.Expand) > 0 {
		url += "?expand=" + strings.Join(opts.Expand, ",")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.fireAuthError()
		return Record{}, ErrUnauthorized
	case http.StatusNotFound:
		return Record{}, ErrRecordNotFound
	default:
		return Record{}, fmt.Errorf("record endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Record{}, err
	}
	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Record{}, err
	}
	switch env.Code {
	case 0:
	case errs.TokenExpiredError, errs.TokenInvalidError:
		c.fireAuthError()
		return Record{}, ErrUnauthorized
	case errs.RecordNotFoundErr:
		return Record{}, ErrRecordNotFound
	default:
		return Record{}, fmt.Errorf("record endpoint code %d: %s", env.Code, env.Msg)
	}
	var rec Record
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Subscribe 实现 Client。懒建连：首个订阅触发 dial+auth。
// 并发调用按到达顺序排队（见 subMu），不会被拒。
func (c *WSClient) Subscribe(collection string, filter Filter, onUpdate func(Record)) (Handle, error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if err := c.ensureConnLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	wait := make(chan subResult, 1)
	c.subWait = wait
	conn := c.conn
	c.mu.Unlock()

	frame := &frameMsg{Type: "sub", Collection: collection, Field: filter.Field, Value: filter.Value}
	if err := c.writeFrame(conn, frame); err != nil {
		c.clearSubWait(wait)
		return "", err
	}

	select {
	case res := <-wait:
		if res.err != nil {
			return "", res.err
		}
		h := Handle(res.sid)
		c.mu.Lock()
		c.subs[h] = &wsWatch{onUpdate: onUpdate}
		c.mu.Unlock()
		return h, nil
	case <-time.After(subAckWait):
		c.clearSubWait(wait)
		return "", fmt.Errorf("subscribe ack timeout")
	}
}

// Unsubscribe 实现 Client。未知句柄为 no-op。
func (c *WSClient) Unsubscribe(h Handle) {
	c.mu.Lock()
	_, ok := c.subs[h]
	if ok {
		delete(c.subs, h)
	}
	conn := c.conn
	c.mu.Unlock()
	if !ok || conn == nil {
		return
	}
	// 撤销尽力而为,失败时连接迟早会重建
	_ = c.writeFrame(conn, &frameMsg{Type: "unsub", SID: string(h)})
}

// Close 主动断开。已有订阅作废，下次 Subscribe 重新建连。
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.subs = make(map[Handle]*wsWatch)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ===== 内部 =====

// frameMsg 与网关的线协议帧。字段布局见 gateway 包。
type frameMsg struct {
	Type       string  `json:"type"`
	Token      string  `json:"token,omitempty"`
	SID        string  `json:"sid,omitempty"`
	Collection string  `json:"collection,omitempty"`
	Field      string  `json:"field,omitempty"`
	Value      string  `json:"value,omitempty"`
	Record     *Record `json:"record,omitempty"`
	Code       int     `json:"code,omitempty"`
	Msg        string  `json:"msg,omitempty"`
}

func (c *WSClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}
	token, ok := c.tokens()
	if !ok {
		return ErrUnauthorized
	}

	wsURL := c.base + feedWSPath
	if strings.HasPrefix(wsURL, "https://") {
		wsURL = "wss://" + wsURL[len("https://"):]
	} else if strings.HasPrefix(wsURL, "http://") {
		wsURL = "ws://" + wsURL[len("http://"):]
	}

	conn, _, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial feed gateway: %w", err)
	}
	if err := c.writeFrame(conn, &frameMsg{Type: "auth", Token: token}); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.gen++
	gen := c.gen
	safe.Go(func() { c.readLoop(conn, gen) })
	return nil
}

func (c *WSClient) writeFrame(conn *websocket.Conn, f *frameMsg) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// readLoop 串行分发 snapshot/suback，连接断开时收尾。
func (c *WSClient) readLoop(conn *websocket.Conn, gen int) {
	authFailed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, 4401) {
				authFailed = true
			}
			break
		}
		var f frameMsg
		if uerr := json.Unmarshal(raw, &f); uerr != nil {
			logger.Warnf("[feed] bad frame from gateway: %v", uerr)
			continue
		}

		switch f.Type {
		case "suback":
			c.mu.Lock()
			wait := c.subWait
			c.subWait = nil
			c.mu.Unlock()
			if wait != nil {
				wait <- subResult{sid: f.SID}
			}

		case "snapshot":
			if f.Record == nil {
				continue
			}
			c.mu.Lock()
			w := c.subs[Handle(f.SID)]
			c.mu.Unlock()
			if w != nil {
				// 在读循环上直接回调 => 同一订阅投递天然串行
				safe.Call(func() { w.onUpdate(*f.Record) })
			}

		case "pong":
			// keepalive 响应,无状态

		case "error":
			// 坏 sub 的应答是 error 而不是 suback：有在途 sub 时立即
			// 用它收尾，别让调用方干等 ack 超时
			c.mu.Lock()
			wait := c.subWait
			c.subWait = nil
			c.mu.Unlock()
			if wait != nil {
				wait <- subResult{err: fmt.Errorf("gateway rejected: code=%d %s", f.Code, f.Msg)}
				continue
			}
			logger.Warnf("[feed] gateway error frame code=%d msg=%s", f.Code, f.Msg)
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.conn = nil
		c.subs = make(map[Handle]*wsWatch)
	}
	wait := c.subWait
	c.subWait = nil
	c.mu.Unlock()
	_ = conn.Close()

	if wait != nil {
		if authFailed {
			wait <- subResult{err: ErrUnauthorized}
		} else {
			wait <- subResult{err: fmt.Errorf("connection closed")}
		}
	}
	if authFailed {
		logger.Infof("[feed] gateway rejected credential, raising auth error")
		c.fireAuthError()
	}
}

func (c *WSClient) clearSubWait(wait chan subResult) {
	c.mu.Lock()
	if c.subWait == wait {
		c.subWait = nil
	}
	c.mu.Unlock()
}
