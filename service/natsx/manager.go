package natsx

import (
	"context"
	"fmt"
)

// 记录变更总线的 Biz 路由。写入方（HTTP API）发布全量记录快照，
// 网关订阅后推给匹配的 websocket watch。
const (
	BizFeedIdentities    = "feed.identities"
	BizFeedConversations = "feed.conversations"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 初始化
func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	m := &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}
	return m, nil
}

// RegisterFeedRoutes 注册 feed 总线的默认路由（广播，无队列组）。
func (m *NatsManager) RegisterFeedRoutes() error {
	routes := []NatsxRoute{
		{Biz: BizFeedIdentities, Subject: "feed.identities"},
		{Biz: BizFeedConversations, Subject: "feed.conversations"},
	}
	for _, r := range routes {
		if err := m.RegisterRoute(r); err != nil {
			return err
		}
	}
	return nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / queue）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish 生产消息（按 biz 路由）
func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

// Subscribe 订阅（Core），同组内用 Queue 分摊；广播则 Queue 置空
func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}
