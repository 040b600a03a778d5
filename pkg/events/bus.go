package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/logger"
)

// Handler 事件处理函数
type Handler func(ctx context.Context, event *Event) error

// Publisher 事件发布接口，组件只依赖该接口
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Emit 创建并发布事件；pub 为 nil 时忽略
func Emit(ctx context.Context, pub Publisher, topic Topic, payload any) error {
	if pub == nil {
		return nil
	}
	ev, err := NewEvent(topic, payload)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, ev)
}

// Bus 基于 watermill gochannel 的进程内事件总线（对外导出）
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	log    *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	handlerSeq int64 // atomic
	published  int64 // atomic
}

// NewBus 创建事件总线
func NewBus(zl *zap.Logger) (*Bus, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	wmLogger := logger.NewWatermillAdapter(zl)

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: pubsub,
		router: router,
		log:    zl.Sugar(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Subscribe 订阅主题；总线运行中订阅会立即生效
// 处理函数返回的错误只记录日志，消息始终被确认，避免无限重投
func (b *Bus) Subscribe(topic Topic, name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("事件处理函数不能为空")
	}
	handlerName := fmt.Sprintf("%s_%d", name, atomic.AddInt64(&b.handlerSeq, 1))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("事件总线已关闭")
	}

	b.router.AddNoPublisherHandler(
		handlerName,
		string(topic),
		b.pubsub,
		func(msg *message.Message) error {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warnf("⚠️ [事件总线] 事件反序列化失败: topic=%s, err=%v", topic, err)
				return nil
			}
			if err := h(msg.Context(), &ev); err != nil {
				b.log.Warnf("⚠️ [事件总线] 处理器 %s 失败: topic=%s, err=%v", handlerName, topic, err)
			}
			return nil
		},
	)

	if b.running {
		if err := b.router.RunHandlers(b.ctx); err != nil {
			return fmt.Errorf("启动处理器 %s 失败: %w", handlerName, err)
		}
	}
	return nil
}

// Start 启动消息路由器，阻塞直到路由器就绪
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if b.closed {
		return fmt.Errorf("事件总线已关闭")
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.router.Run(b.ctx); err != nil {
			b.log.Errorf("❌ [事件总线] 消息路由器退出: %v", err)
		}
	}()

	select {
	case <-b.router.Running():
		b.running = true
		b.log.Info("✅ [事件总线] 已启动")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 发布事件（处理器在独立上下文中执行，不继承发布方的 ctx）
func (b *Bus) Publish(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("事件不能为空")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("topic", string(event.Topic))
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))
	if event.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", event.CorrelationID)
	}

	if err := b.pubsub.Publish(string(event.Topic), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	atomic.AddInt64(&b.published, 1)
	return nil
}

// Published 已发布事件数
func (b *Bus) Published() int64 {
	return atomic.LoadInt64(&b.published)
}

// Close 关闭事件总线（幂等）
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	var firstErr error
	if err := b.router.Close(); err != nil {
		firstErr = err
	}
	if err := b.pubsub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.wg.Wait()
	b.log.Info("✅ [事件总线] 已关闭")
	return firstErr
}
