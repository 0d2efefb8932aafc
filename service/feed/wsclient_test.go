package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway 测试用网关：auth 不校验，sub 延迟 ackDelay 后回 suback；
// reject 里的集合回 error 帧（真网关对坏 sub 就是这么答的）。
// echoSnapshot 时 suback 后立刻补发一帧快照。
type fakeGatewayOpts struct {
	ackDelay     time.Duration
	reject       map[string]bool
	echoSnapshot bool
}

func newFakeGateway(t *testing.T, opts fakeGatewayOpts) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/feed" {
			http.NotFound(w, r)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()

		seq := 0
		for {
			_, raw, rerr := ws.ReadMessage()
			if rerr != nil {
				return
			}
			var f struct {
				Type       string `json:"type"`
				Collection string `json:"collection"`
				Value      string `json:"value"`
			}
			if json.Unmarshal(raw, &f) != nil {
				continue
			}
			switch f.Type {
			case "auth", "unsub":
			case "sub":
				if opts.ackDelay > 0 {
					time.Sleep(opts.ackDelay)
				}
				if opts.reject[f.Collection] {
					_ = ws.WriteJSON(map[string]any{
						"type": "error", "code": 1001, "msg": "unknown collection",
					})
					continue
				}
				seq++
				sid := fmt.Sprintf("sid-%d", seq)
				_ = ws.WriteJSON(map[string]any{"type": "suback", "sid": sid})
				if opts.echoSnapshot {
					_ = ws.WriteJSON(map[string]any{
						"type": "snapshot", "sid": sid,
						"record": Record{
							Collection: f.Collection,
							ID:         f.Value,
							Data:       map[string]any{"id": f.Value},
						},
					})
				}
			}
		}
	}))
}

func staticToken() (string, bool) { return "tok", true }

func TestWSClientSubscribeSerializesConcurrentCalls(t *testing.T) {
	srv := newFakeGateway(t, fakeGatewayOpts{ackDelay: 150 * time.Millisecond})
	defer srv.Close()

	c := NewWSClient(srv.URL, staticToken)
	defer c.Close()

	// rebind 后收件箱/会话两个同步器同时重订阅就是这个形状：
	// 两个都必须拿到句柄，谁都不能被“in flight”拒掉
	var wg sync.WaitGroup
	handles := make([]Handle, 2)
	subErrs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], subErrs[i] = c.Subscribe(CollectionConversations,
				Filter{Field: "_id", Value: fmt.Sprintf("c%d", i)},
				func(Record) {})
		}(i)
	}
	wg.Wait()

	for i := range subErrs {
		if subErrs[i] != nil {
			t.Fatalf("subscribe %d: %v", i, subErrs[i])
		}
		if handles[i] == "" {
			t.Fatalf("subscribe %d: empty handle", i)
		}
	}
	if handles[0] == handles[1] {
		t.Fatalf("handles must be distinct, both %q", handles[0])
	}
}

func TestWSClientSubscribeFailsFastOnErrorFrame(t *testing.T) {
	srv := newFakeGateway(t, fakeGatewayOpts{reject: map[string]bool{"bogus": true}})
	defer srv.Close()

	c := NewWSClient(srv.URL, staticToken)
	defer c.Close()

	start := time.Now()
	_, err := c.Subscribe("bogus", Filter{Value: "x"}, func(Record) {})
	if err == nil {
		t.Fatal("rejected sub must surface an error")
	}
	// error 帧要立即收尾在途 sub，不能熬到 ack 超时
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("rejection took %v, want prompt failure", elapsed)
	}

	// 连接还活着：后续订阅照常工作
	if _, err := c.Subscribe(CollectionConversations, Filter{Value: "c1"}, func(Record) {}); err != nil {
		t.Fatalf("subscribe after rejection: %v", err)
	}
}

func TestWSClientSnapshotDispatch(t *testing.T) {
	srv := newFakeGateway(t, fakeGatewayOpts{echoSnapshot: true})
	defer srv.Close()

	c := NewWSClient(srv.URL, staticToken)
	defer c.Close()

	got := make(chan Record, 1)
	if _, err := c.Subscribe(CollectionConversations, Filter{Field: "_id", Value: "c1"},
		func(r Record) {
			select {
			case got <- r:
			default:
			}
		}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case rec := <-got:
		if rec.ID != "c1" || rec.Collection != CollectionConversations {
			t.Fatalf("record = %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not dispatched to the subscription callback")
	}
}
