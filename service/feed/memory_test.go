package feed

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryGetByID(t *testing.T) {
	m := NewMemory()
	m.Put(Record{Collection: CollectionConversations, ID: "c1",
		Data: map[string]any{"id": "c1"}})

	rec, err := m.GetByID(context.Background(), CollectionConversations, "c1", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ID != "c1" {
		t.Fatalf("rec = %+v", rec)
	}

	_, err = m.GetByID(context.Background(), CollectionConversations, "nope", nil)
	if !IsNotFound(err) {
		t.Fatalf("missing record: err = %v, want not-found", err)
	}
}

func TestMemorySubscribeReplaysCurrent(t *testing.T) {
	m := NewMemory()
	m.Put(Record{Collection: CollectionIdentities, ID: "u1",
		Data: map[string]any{"kind": "user"}})

	var mu sync.Mutex
	var got []Record
	h, err := m.Subscribe(CollectionIdentities, Filter{Field: "_id", Value: "u1"},
		func(r Record) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("initial replay count = %d, want 1", n)
	}

	m.Put(Record{Collection: CollectionIdentities, ID: "u1",
		Data: map[string]any{"kind": "user", "update_time": 2}})
	m.Put(Record{Collection: CollectionIdentities, ID: "u2",
		Data: map[string]any{}}) // 不匹配过滤器

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivery count = %d, want 2", len(got))
	}

	m.Unsubscribe(h)
	m.Unsubscribe(h) // 幂等
	if m.WatchCount() != 0 {
		t.Fatalf("watches = %d after unsubscribe", m.WatchCount())
	}
}

func TestMemoryFieldFilter(t *testing.T) {
	m := NewMemory()

	var mu sync.Mutex
	count := 0
	_, err := m.Subscribe(CollectionConversations, Filter{Field: "owner", Value: "u1"},
		func(Record) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m.Put(Record{Collection: CollectionConversations, ID: "a",
		Data: map[string]any{"owner": "u1"}})
	m.Put(Record{Collection: CollectionConversations, ID: "b",
		Data: map[string]any{"owner": "u2"}})
	m.Put(Record{Collection: CollectionConversations, ID: "c",
		Data: map[string]any{}})

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("field-filtered deliveries = %d, want 1", count)
	}
}

func TestMemoryDeliveredSnapshotIsCopy(t *testing.T) {
	m := NewMemory()

	var rec Record
	done := make(chan struct{}, 1)
	_, err := m.Subscribe(CollectionIdentities, Filter{Value: "u1"}, func(r Record) {
		rec = r
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	src := Record{Collection: CollectionIdentities, ID: "u1",
		Data: map[string]any{"kind": "user"}}
	m.Put(src)
	<-done

	rec.Data["kind"] = "mutated"
	got, err := m.GetByID(context.Background(), CollectionIdentities, "u1", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data["kind"] != "user" {
		t.Fatal("callback mutation leaked into the store")
	}
}
