package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/connection"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/domain/protocol"
	"github.com/charging-platform/central-system/internal/domain/serialization"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// Dispatcher 入站帧的处理器，由协议层实现
type Dispatcher interface {
	// HandleCall 处理CALL，返回已编码的CALLRESULT或CALLERROR帧
	HandleCall(chargePointID string, frame *serialization.Frame) ([]byte, error)
	// HandleCallResult 处理CALLRESULT
	HandleCallResult(chargePointID string, frame *serialization.Frame)
	// HandleCallError 处理CALLERROR
	HandleCallError(chargePointID string, frame *serialization.Frame)
	// StationDisconnected 站点断连通知
	StationDisconnected(chargePointID string)
}

// Config WebSocket管理器配置
type Config struct {
	ReadBufferSize   int           `json:"read_buffer_size"`
	WriteBufferSize  int           `json:"write_buffer_size"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	MaxMessageSize   int64         `json:"max_message_size"`
	MaxOutboundQueue int           `json:"max_outbound_queue"`
	MaxConnections   int           `json:"max_connections"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1024 * 1024,
		MaxOutboundQueue: 256,
		MaxConnections:   20000,
	}
}

type frameKind int

const (
	frameText frameKind = iota
	framePing
)

// outboundFrame 出站队列中的一帧
// critical为true的帧（对站点CALL的应答）从不因背压丢弃
type outboundFrame struct {
	kind     frameKind
	data     []byte
	critical bool
}

var errQueueFull = errors.New("outbound queue full of critical frames")

// sendQueue 单写者出站队列
// 超过上限时丢弃最旧的非关键帧；全部为关键帧时报错，连接将以1011关闭
type sendQueue struct {
	mutex  sync.Mutex
	frames []outboundFrame
	notify chan struct{}
	max    int
}

func newSendQueue(max int) *sendQueue {
	if max <= 0 {
		max = 256
	}
	return &sendQueue{
		notify: make(chan struct{}, 1),
		max:    max,
	}
}

func (q *sendQueue) push(frame outboundFrame) error {
	q.mutex.Lock()
	if len(q.frames) >= q.max {
		dropped := false
		for i, queued := range q.frames {
			if !queued.critical {
				q.frames = append(q.frames[:i], q.frames[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			q.mutex.Unlock()
			return errQueueFull
		}
	}
	q.frames = append(q.frames, frame)
	q.mutex.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *sendQueue) pop(ctx context.Context) (outboundFrame, bool) {
	for {
		q.mutex.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.mutex.Unlock()
			return frame, true
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return outboundFrame{}, false
		case <-q.notify:
		}
	}
}

func (q *sendQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.frames)
}

// Connection 一条站点连接
type Connection struct {
	conn          *websocket.Conn
	chargePointID string
	subprotocol   string
	remoteAddr    string
	stats         *connection.Stats

	queue *sendQueue

	alive      bool
	aliveMutex sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *logger.Logger
}

// ChargePointID 连接所属的站点ID
func (c *Connection) ChargePointID() string {
	return c.chargePointID
}

// Info 连接的诊断描述
func (c *Connection) Info() connection.Info {
	return connection.Info{
		ChargePointID: c.chargePointID,
		Subprotocol:   c.subprotocol,
		RemoteAddr:    c.remoteAddr,
		Snapshot:      c.stats.Snapshot(),
	}
}

func (c *Connection) setAlive(alive bool) {
	c.aliveMutex.Lock()
	defer c.aliveMutex.Unlock()
	c.alive = alive
}

func (c *Connection) isAlive() bool {
	c.aliveMutex.Lock()
	defer c.aliveMutex.Unlock()
	return c.alive
}

// closeWith 发送关闭帧并终止连接，幂等
func (c *Connection) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(time.Second)
		if err := c.conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debugf("Failed to write close frame to %s: %v", c.chargePointID, err)
		}
		c.cancel()
		c.conn.Close()
	})
}

// Manager WebSocket连接管理器
// 每个站点至多一条连接，站点ID取自URL路径的最后一个非空段
type Manager struct {
	config     *Config
	upgrader   *websocket.Upgrader
	codec      *serialization.Codec
	dispatcher Dispatcher

	connections map[string]*Connection
	mutex       sync.RWMutex

	clock  clock.Clock
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建连接管理器
func NewManager(config *Config, dispatcher Dispatcher, clk clock.Clock, log *logger.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	upgrader := &websocket.Upgrader{
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     protocol.SupportedSubprotocols(),
		CheckOrigin:      func(r *http.Request) bool { return true },
	}

	return &Manager{
		config:      config,
		upgrader:    upgrader,
		codec:       serialization.NewCodec(),
		dispatcher:  dispatcher,
		connections: make(map[string]*Connection),
		clock:       clk,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Stop 关闭所有连接并等待处理协程结束
func (m *Manager) Stop() {
	m.cancel()

	m.mutex.Lock()
	for _, conn := range m.connections {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	m.mutex.Unlock()

	m.wg.Wait()
	m.logger.Info("WebSocket manager stopped")
}

// ServeWS 处理充电桩的WebSocket升级请求
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	chargePointID := extractChargePointID(r.URL.Path)
	if chargePointID == "" {
		http.Error(w, "missing charge point ID in path", http.StatusBadRequest)
		return
	}

	// 子协议协商失败必须拒绝升级
	selected := protocol.Negotiate(websocket.Subprotocols(r))
	if selected == "" {
		http.Error(w, "unsupported websocket subprotocol", http.StatusBadRequest)
		return
	}

	if m.Count() >= m.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": {selected}})
	if err != nil {
		m.logger.Errorf("Failed to upgrade connection for %s: %v", chargePointID, err)
		return
	}

	c := m.register(conn, chargePointID, selected, r.RemoteAddr)

	m.wg.Add(1)
	go m.serveConnection(c)
}

// extractChargePointID 取URL路径中最后一个非空段
func extractChargePointID(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

// register 登记连接，同站点的旧连接以1008被顶替
func (m *Manager) register(conn *websocket.Conn, chargePointID, subprotocol, remoteAddr string) *Connection {
	ctx, cancel := context.WithCancel(m.ctx)

	conn.SetReadLimit(m.config.MaxMessageSize)

	c := &Connection{
		conn:          conn,
		chargePointID: chargePointID,
		subprotocol:   subprotocol,
		remoteAddr:    remoteAddr,
		stats:         connection.NewStats(m.clock.Now()),
		queue:         newSendQueue(m.config.MaxOutboundQueue),
		alive:         true,
		ctx:           ctx,
		cancel:        cancel,
		logger:        m.logger,
	}

	conn.SetPongHandler(func(string) error {
		c.setAlive(true)
		c.stats.Touch(m.clock.Now())
		return nil
	})

	m.mutex.Lock()
	previous := m.connections[chargePointID]
	m.connections[chargePointID] = c
	m.mutex.Unlock()

	if previous != nil {
		m.logger.Warnf("Connection takeover for charge point %s, closing previous connection", chargePointID)
		previous.closeWith(websocket.ClosePolicyViolation, "connection superseded")
	} else {
		metrics.ActiveConnections.Inc()
	}

	m.logger.Infof("Charge point %s connected from %s (subprotocol %s)",
		chargePointID, remoteAddr, subprotocol)
	return c
}

// unregister 移除连接，仅当它仍是该站点的当前连接时
func (m *Manager) unregister(c *Connection) {
	m.mutex.Lock()
	current := m.connections[c.chargePointID] == c
	if current {
		delete(m.connections, c.chargePointID)
	}
	m.mutex.Unlock()

	if current {
		metrics.ActiveConnections.Dec()
		// 顶替场景下旧连接的未决请求留给新连接应答
		m.dispatcher.StationDisconnected(c.chargePointID)
		m.logger.Infof("Charge point %s disconnected", c.chargePointID)
	}
}

// serveConnection 连接主协程：启动写协程与存活检测，随后同步收帧
func (m *Manager) serveConnection(c *Connection) {
	defer m.wg.Done()
	defer m.unregister(c)
	defer c.closeWith(websocket.CloseGoingAway, "")

	var connWG sync.WaitGroup
	connWG.Add(2)
	go func() {
		defer connWG.Done()
		m.writeLoop(c)
	}()
	go func() {
		defer connWG.Done()
		m.livenessLoop(c)
	}()

	m.readLoop(c)
	c.cancel()
	connWG.Wait()
}

// readLoop 接收循环，入站处理从不阻塞在出站I/O上
func (m *Manager) readLoop(c *Connection) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway, websocket.ClosePolicyViolation) {
				m.logger.Debugf("Read error for %s: %v", c.chargePointID, err)
			}
			return
		}

		c.stats.RecordReceived(len(data), m.clock.Now())

		if messageType == websocket.BinaryMessage {
			m.logger.Warnf("Binary frame from %s, closing connection", c.chargePointID)
			c.closeWith(websocket.CloseUnsupportedData, "binary frames not supported")
			return
		}
		if !m.handleFrame(c, data) {
			return
		}
	}
}

// handleFrame 解析并分发一帧，返回false要求关闭连接
func (m *Manager) handleFrame(c *Connection, data []byte) bool {
	frame, err := m.codec.Decode(data)
	if err != nil {
		var frameErr *serialization.FrameError
		if errors.As(err, &frameErr) && frameErr.MessageID != "" {
			// 消息ID可恢复，回CALLERROR而不是断开
			response, encodeErr := m.codec.EncodeCallError(frameErr.MessageID, frameErr.Code, frameErr.Reason, nil)
			if encodeErr == nil {
				metrics.CallErrorsSent.WithLabelValues(string(frameErr.Code)).Inc()
				m.sendFrame(c, response, true)
			}
			return true
		}
		m.logger.Warnf("Unrecoverable frame from %s: %v", c.chargePointID, err)
		c.closeWith(websocket.CloseProtocolError, "malformed frame")
		return false
	}

	switch frame.Type {
	case ocpp16.Call:
		response, err := m.dispatcher.HandleCall(c.chargePointID, frame)
		if err != nil {
			m.logger.Errorf("Failed to encode response for %s: %v", c.chargePointID, err)
			return true
		}
		m.sendFrame(c, response, true)
	case ocpp16.CallResult:
		m.dispatcher.HandleCallResult(c.chargePointID, frame)
	case ocpp16.CallError:
		m.dispatcher.HandleCallError(c.chargePointID, frame)
	}
	return true
}

// sendFrame 入队一帧；关键帧占满队列时连接以1011关闭
func (m *Manager) sendFrame(c *Connection, data []byte, critical bool) {
	err := c.queue.push(outboundFrame{kind: frameText, data: data, critical: critical})
	if err != nil {
		m.logger.Errorf("Outbound queue for %s full of critical frames, closing", c.chargePointID)
		c.closeWith(websocket.CloseInternalServerErr, "outbound queue overflow")
	}
}

// writeLoop 唯一的写协程，串行化所有WebSocket写入
func (m *Manager) writeLoop(c *Connection) {
	for {
		frame, ok := c.queue.pop(c.ctx)
		if !ok {
			return
		}

		c.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
		var err error
		switch frame.kind {
		case frameText:
			err = c.conn.WriteMessage(websocket.TextMessage, frame.data)
		case framePing:
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			m.logger.Debugf("Write error for %s: %v", c.chargePointID, err)
			c.cancel()
			return
		}
		if frame.kind == frameText {
			c.stats.RecordSent(len(frame.data), m.clock.Now())
		}
	}
}

// livenessLoop 存活检测：每个周期置alive为假并发ping，pong将其置回
// 周期到来时仍为假则判定连接死亡
func (m *Manager) livenessLoop(c *Connection) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.isAlive() {
				m.logger.Warnf("Charge point %s failed liveness check, terminating", c.chargePointID)
				c.closeWith(websocket.CloseGoingAway, "liveness check failed")
				return
			}
			c.setAlive(false)
			if err := c.queue.push(outboundFrame{kind: framePing}); err != nil {
				m.logger.Debugf("Skipped ping for %s: outbound queue full", c.chargePointID)
			}
		}
	}
}

// Send 向站点发送一帧服务端发起的数据，实现协议层的Sender
// 服务端发起的帧是非关键帧，可因背压被丢弃
func (m *Manager) Send(chargePointID string, data []byte) error {
	c, exists := m.Get(chargePointID)
	if !exists {
		return fmt.Errorf("charge point %s is not connected", chargePointID)
	}
	if err := c.queue.push(outboundFrame{kind: frameText, data: data, critical: false}); err != nil {
		return fmt.Errorf("outbound queue for %s is full: %w", chargePointID, err)
	}
	return nil
}

// Get 查询站点连接
func (m *Manager) Get(chargePointID string) (*Connection, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, exists := m.connections[chargePointID]
	return c, exists
}

// IsConnected 检查站点是否在线
func (m *Manager) IsConnected(chargePointID string) bool {
	_, exists := m.Get(chargePointID)
	return exists
}

// Count 当前连接数
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections)
}

// Connections 所有连接的诊断信息
func (m *Manager) Connections() []connection.Info {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]connection.Info, 0, len(m.connections))
	for _, c := range m.connections {
		result = append(result, c.Info())
	}
	return result
}
