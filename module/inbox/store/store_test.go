package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestMarkReadPipelineCopiesUnreadWatermark(t *testing.T) {
	p := markReadPipeline("c1", 1700000000123)

	if len(p) != 1 {
		t.Fatalf("pipeline stages = %d, want 1", len(p))
	}
	stage := p[0]
	if len(stage) != 1 || stage[0].Key != "$set" {
		t.Fatalf("stage = %+v, want single $set", stage)
	}
	set, ok := stage[0].Value.(bson.M)
	if !ok {
		t.Fatalf("$set value type %T", stage[0].Value)
	}

	// 相等契约的关键：read 水位引用 unread 水位的**当前文档值**，
	// 不是调用方读到的旧值，也不是 now
	if ref, _ := set["last_reads.c1"].(string); ref != "$last_unreads.c1" {
		t.Fatalf("last_reads.c1 = %v, want field reference $last_unreads.c1", set["last_reads.c1"])
	}
	if ts, _ := set["update_time"].(int64); ts != 1700000000123 {
		t.Fatalf("update_time = %v", set["update_time"])
	}
}
