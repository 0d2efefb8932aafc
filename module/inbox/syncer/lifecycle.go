package syncer

import (
	"context"
	"sync"
	"time"

	"TalentLink/logger"
	"TalentLink/service/feed"
)

const rebindTimeout = 10 * time.Second

// Controller 生命周期控制器：把导航/可见性信号和凭证失效
// 绑到同步器的建/拆上。
//   - SetActiveConversation：离开会话视图就 Close 会话同步器，
//     服务端的 seen 记账不会被没人看的订阅刷着保鲜
//   - feed 凭证失效：Rebind 后把当前打开的同步器按新身份重开，
//     调用方不需要手动重新 Open
type Controller struct {
	binder *Binder
	client feed.Client

	mu         sync.Mutex
	inbox      *InboxSyncer
	conv       *ConversationSyncer
	activeConv string
	started    bool
}

func NewController(binder *Binder, client feed.Client, marker MarkSeener) *Controller {
	c := &Controller{
		binder: binder,
		client: client,
		inbox:  NewInboxSyncer(client),
		conv:   NewConversationSyncer(client, marker),
	}
	client.OnAuthError(c.onAuthError)
	return c
}

func (c *Controller) Inbox() *InboxSyncer               { return c.inbox }
func (c *Controller) Conversation() *ConversationSyncer { return c.conv }

// Start 绑定身份并打开收件箱同步器。Bind 失败不是终态：
// 返回错误，同步器保持关闭，调用方可稍后重试 Start。
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.binder.Bind(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.reopenLocked()
	return nil
}

// Stop 关闭全部同步器（登出/页面卸载）。重复调用安全。
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.activeConv = ""
	c.conv.Close()
	c.inbox.Close()
}

// SetActiveConversation 当前正在查看的会话变更。
// id 为空 = 不在任何会话视图上（导航走了/标签页隐藏）。
func (c *Controller) SetActiveConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.activeConv {
		return
	}
	c.activeConv = id

	if id == "" {
		c.conv.Close()
		return
	}
	if !c.started {
		return
	}
	ident, ok := c.binder.CurrentIdent()
	if !ok {
		return
	}
	// Open 内部自会先拆掉上一个会话的订阅
	c.conv.Open(ident, id)
}

// onAuthError feed 凭证被拒：rebind，成功后按新身份重开当前同步器；
// 失败则全部关掉（未连接态），不算致命。
func (c *Controller) onAuthError() {
	ctx, cancel := context.WithTimeout(context.Background(), rebindTimeout)
	defer cancel()

	if _, err := c.binder.Rebind(ctx); err != nil {
		logger.Warnf("[lifecycle] rebind failed: %v", err)
		c.mu.Lock()
		c.conv.Close()
		c.inbox.Close()
		c.mu.Unlock()
		return
	}

	logger.Infof("[lifecycle] rebound, restarting synchronizers")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.reopenLocked()
}

func (c *Controller) reopenLocked() {
	ident, ok := c.binder.CurrentIdent()
	if !ok {
		return
	}
	c.inbox.Open(ident)
	if c.activeConv != "" {
		c.conv.Open(ident, c.activeConv)
	}
}
