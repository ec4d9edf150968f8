package ocpp16

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

var (
	// ErrRequestTimeout 等待响应超过pendingRequestTTL
	ErrRequestTimeout = errors.New("pending request timed out")
	// ErrStationDisconnected 等待期间充电桩断开连接
	ErrStationDisconnected = errors.New("charge point disconnected")
	// ErrTrackerClosed 服务关停，所有等待者被取消
	ErrTrackerClosed = errors.New("pending request tracker closed")
)

// Outcome 一次服务端发起CALL的最终结果
// Err非空时表示超时/断连/关停，此时其余字段无意义
type Outcome struct {
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	Err              error
}

type pendingEntry struct {
	messageID     string
	action        ocpp16.Action
	chargePointID string
	createdAt     time.Time
	deadline      time.Time
	waiter        chan Outcome
}

// Tracker 服务端发起请求的跟踪器
// 每个出站CALL登记一个等待者；匹配的CALLRESULT/CALLERROR、超时、
// 断连或关停都恰好向等待者投递一次结果
type Tracker struct {
	entries map[string]*pendingEntry
	mutex   sync.Mutex

	ttl    time.Duration
	clock  clock.Clock
	logger *logger.Logger

	counter int64

	ctx     chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewTracker 创建跟踪器，ttl为出站CALL的响应期限
func NewTracker(ttl time.Duration, clk clock.Clock, log *logger.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Tracker{
		entries: make(map[string]*pendingEntry),
		ttl:     ttl,
		clock:   clk,
		logger:  log,
		ctx:     make(chan struct{}),
	}
}

// Start 启动过期扫描协程
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.expireLoop()
}

// Stop 停止跟踪器，所有未决等待者收到ErrTrackerClosed
func (t *Tracker) Stop() {
	t.mutex.Lock()
	if t.stopped {
		t.mutex.Unlock()
		return
	}
	t.stopped = true
	close(t.ctx)
	cancelled := t.drainLocked()
	t.mutex.Unlock()

	for _, entry := range cancelled {
		entry.waiter <- Outcome{Err: ErrTrackerClosed}
	}
	t.wg.Wait()
}

// NextMessageID 生成唯一消息ID，时间戳加计数器，不超过36字符
func (t *Tracker) NextMessageID() string {
	seq := atomic.AddInt64(&t.counter, 1)
	return fmt.Sprintf("%d-%d", t.clock.Now().UnixMilli(), seq)
}

// Register 登记一个出站CALL，返回结果等待通道
// 通道容量为1，投递从不阻塞
func (t *Tracker) Register(messageID string, action ocpp16.Action, chargePointID string) <-chan Outcome {
	entry := &pendingEntry{
		messageID:     messageID,
		action:        action,
		chargePointID: chargePointID,
		createdAt:     t.clock.Now(),
		deadline:      t.clock.Now().Add(t.ttl),
		waiter:        make(chan Outcome, 1),
	}

	t.mutex.Lock()
	if t.stopped {
		t.mutex.Unlock()
		entry.waiter <- Outcome{Err: ErrTrackerClosed}
		return entry.waiter
	}
	t.entries[messageID] = entry
	metrics.PendingRequests.Set(float64(len(t.entries)))
	t.mutex.Unlock()

	return entry.waiter
}

// Resolve 投递匹配的CALLRESULT，未登记的消息ID返回false
func (t *Tracker) Resolve(messageID string, payload json.RawMessage) bool {
	entry := t.take(messageID)
	if entry == nil {
		return false
	}
	entry.waiter <- Outcome{Payload: payload}
	return true
}

// ResolveError 投递匹配的CALLERROR，未登记的消息ID返回false
func (t *Tracker) ResolveError(messageID, errorCode, description string) bool {
	entry := t.take(messageID)
	if entry == nil {
		return false
	}
	entry.waiter <- Outcome{ErrorCode: errorCode, ErrorDescription: description}
	return true
}

// Cancel 撤销一条登记（如发送失败时），不投递任何结果
func (t *Tracker) Cancel(messageID string) {
	t.take(messageID)
}

// CancelStation 取消某站点的全部未决请求，等待者收到ErrStationDisconnected
func (t *Tracker) CancelStation(chargePointID string) {
	t.mutex.Lock()
	var cancelled []*pendingEntry
	for id, entry := range t.entries {
		if entry.chargePointID == chargePointID {
			cancelled = append(cancelled, entry)
			delete(t.entries, id)
		}
	}
	metrics.PendingRequests.Set(float64(len(t.entries)))
	t.mutex.Unlock()

	for _, entry := range cancelled {
		entry.waiter <- Outcome{Err: ErrStationDisconnected}
	}
	if len(cancelled) > 0 {
		t.logger.Debugf("Cancelled %d pending requests for disconnected charge point %s",
			len(cancelled), chargePointID)
	}
}

// Count 未决请求数量
func (t *Tracker) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.entries)
}

func (t *Tracker) take(messageID string) *pendingEntry {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry, exists := t.entries[messageID]
	if !exists {
		return nil
	}
	delete(t.entries, messageID)
	metrics.PendingRequests.Set(float64(len(t.entries)))
	return entry
}

func (t *Tracker) drainLocked() []*pendingEntry {
	drained := make([]*pendingEntry, 0, len(t.entries))
	for id, entry := range t.entries {
		drained = append(drained, entry)
		delete(t.entries, id)
	}
	metrics.PendingRequests.Set(0)
	return drained
}

func (t *Tracker) expireLoop() {
	defer t.wg.Done()

	interval := t.ttl / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx:
			return
		case <-ticker.C:
			t.expireOnce()
		}
	}
}

// expireOnce 扫描并超时所有过了期限的登记
func (t *Tracker) expireOnce() {
	now := t.clock.Now()

	t.mutex.Lock()
	var expired []*pendingEntry
	for id, entry := range t.entries {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}
	metrics.PendingRequests.Set(float64(len(t.entries)))
	t.mutex.Unlock()

	for _, entry := range expired {
		entry.waiter <- Outcome{Err: ErrRequestTimeout}
		t.logger.Warnf("Pending request expired: messageId=%s action=%s chargePoint=%s",
			entry.messageID, entry.action, entry.chargePointID)
	}
}
