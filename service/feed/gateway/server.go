package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	restfullog "github.com/emicklei/go-restful/v3/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	xctx "golang.org/x/net/context"

	"TalentLink/logger"
	"TalentLink/module/inbox/store"
	"TalentLink/service/feed"
	"TalentLink/service/natsx"
	"TalentLink/service/storage"
	"TalentLink/tools/errs"
	"TalentLink/tools/ids"
	jwtlib "TalentLink/tools/security"
)

var upgraded = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	authDeadline  = 10 * time.Second
	writeDeadline = 10 * time.Second
	sendQueueLen  = 64
)

// Server feed 网关：websocket 接入 + natsx 总线转发。
// 每条连接先 auth（JWT + redis 会话），之后用 sub/unsub 维护 watch 集合；
// 存储层每次写入发布的全量快照由这里按 watch 过滤后下推。
// 访问控制：身份记录只推给本人连接，会话记录只推给订阅者连接。
type Server struct {
	sessions *storage.SessionStore
	jwtOpts  jwtlib.Options
	store    *store.Store
	bus      *natsx.NatsManager

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

type watch struct {
	collection string
	filter     feed.Filter
}

type wsConn struct {
	connID     string
	identityID string
	kind       string

	ws   *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	watches map[string]watch // sid -> watch
	closed  bool
}

func NewServer(sessions *storage.SessionStore, jwtOpts jwtlib.Options, st *store.Store, bus *natsx.NatsManager) *Server {
	return &Server{
		sessions: sessions,
		jwtOpts:  jwtOpts,
		store:    st,
		bus:      bus,
		conns:    make(map[*wsConn]struct{}),
	}
}

// Start 挂上总线消费（两个集合的快照事件）。
func (s *Server) Start() error {
	if err := s.bus.Subscribe(natsx.BizFeedIdentities, s.onBusEvent); err != nil {
		return err
	}
	return s.bus.Subscribe(natsx.BizFeedConversations, s.onBusEvent)
}

func (s *Server) onBusEvent(_ xctx.Context, msg natsx.NatsxMessage) error {
	var rec feed.Record
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		logger.Warnf("[gateway] bad bus event subject=%s err=%v", msg.Subject, err)
		return nil // 不 NAK：坏帧重投也还是坏的
	}
	s.fanout(rec)
	return nil
}

// fanout 把一条记录快照推给所有匹配且有权看的 watch。
func (s *Server) fanout(rec feed.Record) {
	s.mu.RLock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if !s.allowed(c, rec) {
			continue
		}
		c.mu.Lock()
		for sid, w := range c.watches {
			if w.collection == rec.Collection && w.filter.Match(rec) {
				c.enqueueLocked(BuildSnapshot(sid, rec).Encode())
			}
		}
		c.mu.Unlock()
	}
}

// allowed 记录级访问控制。
func (s *Server) allowed(c *wsConn, rec feed.Record) bool {
	switch rec.Collection {
	case feed.CollectionIdentities:
		return rec.ID == c.identityID
	case feed.CollectionConversations:
		subs, ok := rec.Data["subscribers"].([]any)
		if !ok {
			return false
		}
		for _, s := range subs {
			if id, ok := s.(string); ok && id == c.identityID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// HandleWS GET /conversations/feed 的升级入口。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgraded.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade websocket error: %v", err)
		return
	}

	conn := &wsConn{
		connID:  ids.GenerateString(),
		ws:      ws,
		send:    make(chan []byte, sendQueueLen),
		watches: make(map[string]watch),
	}

	// ---- 首帧必须是 auth ----
	_ = ws.SetReadDeadline(time.Now().Add(authDeadline))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	frame, err := ParseFrameJSON(raw)
	if err != nil || frame.Type != FrameAuth {
		s.closeWith(ws, CloseAuthFailure, "auth frame required")
		return
	}
	if err := s.authenticate(c.Request.Context(), conn, frame.Token); err != nil {
		logger.Infof("[gateway] auth failed conn=%s err=%v", conn.connID, err)
		s.closeWith(ws, CloseAuthFailure, "credential rejected")
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go conn.writeLoop()
	logger.Infof("[gateway] connected conn=%s identity=%s kind=%s", conn.connID, conn.identityID, conn.kind)

	// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed conn=%s err=%v", conn.connID, rerr)
			} else {
				logger.Infof("[gateway] read err conn=%s err=%v", conn.connID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		msg, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			restfullog.Printf("[gateway] ParseFrameJSON err conn=%s err=%v sample=%q len=%d",
				conn.connID, perr, sample, len(data))
			continue
		}

		s.dispatch(conn, msg)
	}

	// ---- 退出阶段 ----
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.shutdown()
}

func (s *Server) authenticate(ctx context.Context, conn *wsConn, token string) error {
	if token == "" {
		return errs.ErrTokenInvalid.Wrap()
	}
	claims, err := jwtlib.Verify(s.jwtOpts, token)
	if err != nil {
		return errs.ErrTokenExpired.WrapMsg("jwt verify")
	}
	sess, err := s.sessions.Load(ctx, token)
	if err != nil {
		return err
	}
	if sess.IdentityID != claims.IdentityID() {
		return errs.ErrTokenInvalid.Wrap()
	}
	conn.identityID = sess.IdentityID
	conn.kind = sess.Kind
	return nil
}

func (s *Server) dispatch(conn *wsConn, msg *Frame) {
	switch msg.Type {
	case FramePing:
		conn.enqueue((&Frame{Type: FramePong}).Encode())

	case FrameSub:
		s.handleSub(conn, msg)

	case FrameUnsub:
		conn.mu.Lock()
		delete(conn.watches, msg.SID) // 不存在为 no-op（幂等撤销）
		conn.mu.Unlock()

	default:
		conn.enqueue(BuildError(errs.ArgsError, "unknown frame type: "+msg.Type).Encode())
	}
}

// handleSub 注册 watch 并立即补发当前记录快照（read-your-subscription：
// 订阅建立后客户端马上有一帧可用，不必等下一次写入）。
func (s *Server) handleSub(conn *wsConn, msg *Frame) {
	if msg.Collection != feed.CollectionIdentities && msg.Collection != feed.CollectionConversations {
		conn.enqueue(BuildError(errs.ArgsError, "unknown collection").Encode())
		return
	}

	sid := ids.GenerateString()
	w := watch{collection: msg.Collection, filter: feed.Filter{Field: msg.Field, Value: msg.Value}}

	conn.mu.Lock()
	conn.watches[sid] = w
	conn.mu.Unlock()
	conn.enqueue(BuildSubAck(sid).Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rec, ok := s.currentRecord(ctx, conn, w); ok {
		conn.enqueue(BuildSnapshot(sid, rec).Encode())
	}
}

// currentRecord 按 watch 取当前记录（带访问控制）。
func (s *Server) currentRecord(ctx context.Context, conn *wsConn, w watch) (feed.Record, bool) {
	id := w.filter.Value
	switch w.collection {
	case feed.CollectionIdentities:
		if id != conn.identityID {
			return feed.Record{}, false
		}
		ident, err := s.store.GetIdentity(ctx, id, true)
		if err != nil {
			return feed.Record{}, false
		}
		return encodeRecord(w.collection, id, ident)
	case feed.CollectionConversations:
		conv, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return feed.Record{}, false
		}
		if _, isSub := conv.Counterpart(conn.identityID); !isSub {
			return feed.Record{}, false
		}
		return encodeRecord(w.collection, id, conv)
	}
	return feed.Record{}, false
}

func encodeRecord(collection, id string, v any) (feed.Record, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return feed.Record{}, false
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return feed.Record{}, false
	}
	return feed.Record{Collection: collection, ID: id, Data: data}, true
}

func (s *Server) closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeDeadline)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// ===== wsConn =====

func (c *wsConn) enqueue(b []byte) {
	c.mu.Lock()
	c.enqueueLocked(b)
	c.mu.Unlock()
}

func (c *wsConn) enqueueLocked(b []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 慢消费者：丢帧，下一次快照会带来更新的全量
		logger.Warnf("[gateway] send queue full conn=%s, dropping frame", c.connID)
	}
}

func (c *wsConn) writeLoop() {
	for b := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Infof("[gateway] write err conn=%s err=%v", c.connID, err)
			return
		}
	}
}

func (c *wsConn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.watches = map[string]watch{}
	c.mu.Unlock()
	_ = c.ws.Close()
}
