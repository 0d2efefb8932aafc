package gateway

import (
	"encoding/json"
	"fmt"

	"TalentLink/service/feed"
)

// feed 网关线协议（JSON 文本帧）。
// 客户端：auth → sub/unsub/ping；服务端：suback/snapshot/pong/error。
// snapshot 永远携带全量记录。
const (
	FrameAuth     = "auth"
	FrameSub      = "sub"
	FrameUnsub    = "unsub"
	FrameSubAck   = "suback"
	FrameSnapshot = "snapshot"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameError    = "error"
)

// CloseAuthFailure 凭证被拒时的关闭码。客户端据此触发 rebind。
const CloseAuthFailure = 4401

type Frame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// sub / unsub / suback / snapshot
	SID        string `json:"sid,omitempty"`
	Collection string `json:"collection,omitempty"`
	Field      string `json:"field,omitempty"`
	Value      string `json:"value,omitempty"`

	// snapshot
	Record *feed.Record `json:"record,omitempty"`

	// error
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame type missing")
	}
	return &f, nil
}

func (f *Frame) Encode() []byte {
	b, _ := json.Marshal(f)
	return b
}

func BuildSubAck(sid string) *Frame {
	return &Frame{Type: FrameSubAck, SID: sid}
}

func BuildSnapshot(sid string, rec feed.Record) *Frame {
	return &Frame{Type: FrameSnapshot, SID: sid, Record: &rec}
}

func BuildError(code int, msg string) *Frame {
	return &Frame{Type: FrameError, Code: code, Msg: msg}
}
