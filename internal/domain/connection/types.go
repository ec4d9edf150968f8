package connection

import (
	"sync"
	"time"
)

// Stats 连接流量计数器
// 发送与接收例程并发更新，诊断接口读取快照
type Stats struct {
	mutex            sync.RWMutex
	connectedAt      time.Time
	lastActivity     time.Time
	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
}

// NewStats 创建计数器
func NewStats(now time.Time) *Stats {
	return &Stats{
		connectedAt:  now,
		lastActivity: now,
	}
}

// RecordSent 记录一条发出的消息
func (s *Stats) RecordSent(bytes int, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messagesSent++
	s.bytesSent += int64(bytes)
	s.lastActivity = now
}

// RecordReceived 记录一条收到的消息
func (s *Stats) RecordReceived(bytes int, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messagesReceived++
	s.bytesReceived += int64(bytes)
	s.lastActivity = now
}

// Touch 更新最后活动时间（pong等非消息活动）
func (s *Stats) Touch(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = now
}

// Snapshot 返回计数器快照
func (s *Stats) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return Snapshot{
		ConnectedAt:      s.connectedAt,
		LastActivity:     s.lastActivity,
		MessagesSent:     s.messagesSent,
		MessagesReceived: s.messagesReceived,
		BytesSent:        s.bytesSent,
		BytesReceived:    s.bytesReceived,
	}
}

// Snapshot 计数器的一致性快照
type Snapshot struct {
	ConnectedAt      time.Time `json:"connectedAt"`
	LastActivity     time.Time `json:"lastActivity"`
	MessagesSent     int64     `json:"messagesSent"`
	MessagesReceived int64     `json:"messagesReceived"`
	BytesSent        int64     `json:"bytesSent"`
	BytesReceived    int64     `json:"bytesReceived"`
}

// Info 单条站点连接的只读描述，供诊断接口使用
type Info struct {
	ChargePointID string `json:"chargePointId"`
	Subprotocol   string `json:"subprotocol"`
	RemoteAddr    string `json:"remoteAddr"`
	Snapshot
}
