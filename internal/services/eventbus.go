package services

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// 宿主生命周期事件
const (
	EventReady      = "ready"
	EventRoundStart = "roundStart"
)

// EventHandler 事件处理函数
type EventHandler func(ctx context.Context) error

// EventBus 进程内事件总线，按订阅顺序同步调用
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *zap.Logger
}

func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger.Named("EventBus"),
	}
}

func (b *EventBus) Subscribe(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish 调用全部处理函数，某个失败不影响其余，返回合并后的错误
func (b *EventBus) Publish(ctx context.Context, event string) error {
	b.mu.RLock()
	handlers := append([]EventHandler{}, b.handlers[event]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx); err != nil {
			b.logger.Error("事件处理失败", zap.String("event", event), zap.Error(err))
			errs = append(errs, err)
		}
	}
	b.logger.Debug("事件已发布", zap.String("event", event), zap.Int("handlers", len(handlers)))
	return errors.Join(errs...)
}
