package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// Sink 事件的外部出口（如Kafka生产者），可选
type Sink interface {
	// PublishEvent 发布事件到外部系统
	PublishEvent(ctx context.Context, event events.Event) error
}

// Config 事件总线配置
type Config struct {
	// PublishBuffer 发布通道缓冲区大小
	PublishBuffer int `json:"publish_buffer"`
	// SubscriberBuffer 每个订阅者的队列大小
	SubscriberBuffer int `json:"subscriber_buffer"`
}

// DefaultConfig 默认事件总线配置
func DefaultConfig() *Config {
	return &Config{
		PublishBuffer:    1000,
		SubscriberBuffer: 64,
	}
}

// subscriber 一个订阅者及其站点过滤集合
// 站点集合为空表示不接收任何事件（按需订阅）
type subscriber struct {
	id       string
	queue    chan events.Event
	stations map[string]bool
	closed   bool
	mutex    sync.RWMutex
}

func (s *subscriber) wants(chargePointID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stations[chargePointID]
}

// deliver 非阻塞投递，队列满或已关闭时返回false
func (s *subscriber) deliver(event events.Event) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// Bus 事件总线
// 发布方永不阻塞；订阅者队列满时丢弃新事件（至多一次投递）
type Bus struct {
	config      *Config
	subscribers map[string]*subscriber
	mutex       sync.RWMutex

	publishChan chan events.Event
	sink        Sink

	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started    bool
	startMutex sync.Mutex
}

// NewBus 创建事件总线
func NewBus(config *Config, log *logger.Logger) *Bus {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		config:      config,
		subscribers: make(map[string]*subscriber),
		publishChan: make(chan events.Event, config.PublishBuffer),
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetSink 设置外部事件出口，须在Start之前调用
func (b *Bus) SetSink(sink Sink) {
	b.sink = sink
}

// Start 启动分发循环
func (b *Bus) Start() error {
	b.startMutex.Lock()
	defer b.startMutex.Unlock()

	if b.started {
		return fmt.Errorf("event bus already started")
	}

	b.wg.Add(1)
	go b.dispatchLoop()

	b.started = true
	b.logger.Info("Event bus started")
	return nil
}

// Stop 停止分发循环并关闭所有订阅者队列
func (b *Bus) Stop() error {
	b.startMutex.Lock()
	defer b.startMutex.Unlock()

	if !b.started {
		return nil
	}

	b.cancel()
	b.wg.Wait()

	b.mutex.Lock()
	for id, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, id)
	}
	b.mutex.Unlock()

	b.started = false
	b.logger.Info("Event bus stopped")
	return nil
}

// Publish 发布事件，永不阻塞
// 发布通道满时丢弃并告警
func (b *Bus) Publish(event events.Event) {
	select {
	case b.publishChan <- event:
		metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
	default:
		b.logger.Warnf("Event bus publish buffer full, dropping %s for %s", event.GetType(), event.GetChargePointID())
	}
}

// Subscribe 注册订阅者并返回其事件队列
// 新订阅者不关注任何站点，需通过AddStation逐个开启
func (b *Bus) Subscribe(id string) <-chan events.Event {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if existing, exists := b.subscribers[id]; exists {
		return existing.queue
	}
	sub := &subscriber{
		id:       id,
		queue:    make(chan events.Event, b.config.SubscriberBuffer),
		stations: make(map[string]bool),
	}
	b.subscribers[id] = sub
	b.logger.Debugf("Subscriber %s registered", id)
	return sub.queue
}

// Unsubscribe 注销订阅者并关闭其队列，幂等
func (b *Bus) Unsubscribe(id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return
	}
	sub.close()
	delete(b.subscribers, id)
	b.logger.Debugf("Subscriber %s removed", id)
}

// AddStation 订阅某站点的事件
func (b *Bus) AddStation(id, chargePointID string) bool {
	b.mutex.RLock()
	sub, exists := b.subscribers[id]
	b.mutex.RUnlock()
	if !exists {
		return false
	}

	sub.mutex.Lock()
	sub.stations[chargePointID] = true
	sub.mutex.Unlock()
	return true
}

// RemoveStation 退订某站点的事件，幂等
func (b *Bus) RemoveStation(id, chargePointID string) bool {
	b.mutex.RLock()
	sub, exists := b.subscribers[id]
	b.mutex.RUnlock()
	if !exists {
		return false
	}

	sub.mutex.Lock()
	delete(sub.stations, chargePointID)
	sub.mutex.Unlock()
	return true
}

// SubscriberCount 当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}

// dispatchLoop 分发循环：按站点过滤路由到订阅者队列，并镜像到外部出口
func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.publishChan:
			b.route(event)
		}
	}
}

func (b *Bus) route(event events.Event) {
	chargePointID := event.GetChargePointID()

	b.mutex.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.wants(chargePointID) {
			targets = append(targets, sub)
		}
	}
	b.mutex.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(event) {
			// 订阅者消费过慢：丢弃新事件，发布方不受影响
			b.logger.Warnf("Subscriber %s queue full, dropping %s", sub.id, event.GetType())
		}
	}

	if b.sink != nil {
		if err := b.sink.PublishEvent(b.ctx, event); err != nil {
			b.logger.ErrorWithErr(err, "Failed to mirror event to sink")
		}
	}
}
