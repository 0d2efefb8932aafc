package feed

import (
	"context"
	"sync"

	"TalentLink/tools/ids"
	"TalentLink/tools/safe"
)

// Memory 进程内 feed 实现：单测与本地开发使用，语义与网关一致。
//   - Put 写入记录并同步投递给匹配的订阅（投递顺序 = Put 调用顺序）
//   - Subscribe 先补发当前匹配记录，再进入增量投递
//   - FailAuth 模拟凭证失效（触发 OnAuthError 回调）
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // collection -> id -> record
	watches map[Handle]*memWatch
	authFns []func()

	// 投递互斥：保证同一实现上的回调串行（见 Client 契约）
	deliverMu sync.Mutex
}

type memWatch struct {
	collection string
	filter     Filter
	onUpdate   func(Record)
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string]Record),
		watches: make(map[Handle]*memWatch),
	}
}

func (m *Memory) GetByID(_ context.Context, collection, id string, _ *GetOptions) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.records[collection]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	rec, ok := coll[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Subscribe(collection string, filter Filter, onUpdate func(Record)) (Handle, error) {
	h := Handle(ids.GenerateString())
	w := &memWatch{collection: collection, filter: filter, onUpdate: onUpdate}

	m.mu.Lock()
	m.watches[h] = w
	// 补发当前匹配的记录（read-your-subscription，与网关 sub 行为一致）
	var initial []Record
	for _, rec := range m.records[collection] {
		if filter.Match(rec) {
			initial = append(initial, cloneRecord(rec))
		}
	}
	m.mu.Unlock()

	for _, rec := range initial {
		m.deliver(w, rec)
	}
	return h, nil
}

func (m *Memory) Unsubscribe(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, h) // 不存在则 no-op
}

func (m *Memory) OnAuthError(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFns = append(m.authFns, fn)
}

// Put 模拟一次存储写入：覆盖记录并向匹配订阅投递全量快照。
func (m *Memory) Put(rec Record) {
	m.mu.Lock()
	coll, ok := m.records[rec.Collection]
	if !ok {
		coll = make(map[string]Record)
		m.records[rec.Collection] = coll
	}
	coll[rec.ID] = cloneRecord(rec)

	var targets []*memWatch
	for _, w := range m.watches {
		if w.collection == rec.Collection && w.filter.Match(rec) {
			targets = append(targets, w)
		}
	}
	m.mu.Unlock()

	for _, w := range targets {
		m.deliver(w, cloneRecord(rec))
	}
}

// FailAuth 触发所有已注册的凭证失效回调（模拟 token 过期被网关踢掉）。
func (m *Memory) FailAuth() {
	m.mu.RLock()
	fns := append([]func(){}, m.authFns...)
	m.mu.RUnlock()
	for _, fn := range fns {
		safe.Call(fn)
	}
}

// WatchCount 当前活跃订阅数（测试断言用）。
func (m *Memory) WatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watches)
}

func (m *Memory) deliver(w *memWatch, rec Record) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	safe.Call(func() { w.onUpdate(rec) })
}

func cloneRecord(r Record) Record {
	out := Record{Collection: r.Collection, ID: r.ID}
	if r.Data != nil {
		out.Data = cloneMap(r.Data)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneMap(t)
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				if em, ok := e.(map[string]any); ok {
					s[i] = cloneMap(em)
				} else {
					s[i] = e
				}
			}
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
