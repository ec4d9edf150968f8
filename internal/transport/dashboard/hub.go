package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/eventbus"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// Config 仪表盘接入配置
type Config struct {
	ReadBufferSize  int           `json:"read_buffer_size"`
	WriteBufferSize int           `json:"write_buffer_size"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	MaxMessageSize  int64         `json:"max_message_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  4096,
	}
}

// controlFrame 仪表盘客户端的订阅控制帧
// {"type":"subscribe","data":{"stationId":"CP001"}}
type controlFrame struct {
	Type string `json:"type"`
	Data struct {
		StationID string `json:"stationId"`
	} `json:"data"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	queue  <-chan events.Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub 仪表盘WebSocket接入
// 每个客户端分配UUID订阅者身份，按站点订阅事件总线的增量事件
type Hub struct {
	config   *Config
	upgrader *websocket.Upgrader
	bus      *eventbus.Bus
	logger   *logger.Logger

	clients map[string]*client
	mutex   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub 创建仪表盘接入
func NewHub(config *Config, bus *eventbus.Bus, log *logger.Logger) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bus:     bus,
		logger:  log,
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Stop 关闭所有仪表盘连接
func (h *Hub) Stop() {
	h.cancel()

	h.mutex.Lock()
	for _, c := range h.clients {
		c.conn.Close()
	}
	h.mutex.Unlock()

	h.wg.Wait()
	h.logger.Info("Dashboard hub stopped")
}

// ClientCount 当前仪表盘客户端数量
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// ServeWS 处理仪表盘的WebSocket升级请求
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade dashboard connection: %v", err)
		return
	}
	conn.SetReadLimit(h.config.MaxMessageSize)

	ctx, cancel := context.WithCancel(h.ctx)
	id := uuid.New().String()
	c := &client{
		id:     id,
		conn:   conn,
		queue:  h.bus.Subscribe(id),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()

	metrics.DashboardSubscribers.Inc()
	h.logger.Infof("Dashboard client %s connected from %s", c.id, r.RemoteAddr)

	h.wg.Add(1)
	go h.serveClient(c)
}

func (h *Hub) serveClient(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c)

	var clientWG sync.WaitGroup
	clientWG.Add(1)
	go func() {
		defer clientWG.Done()
		h.writeLoop(c)
	}()

	h.readLoop(c)
	c.cancel()
	clientWG.Wait()
}

func (h *Hub) removeClient(c *client) {
	c.cancel()
	c.conn.Close()
	h.bus.Unsubscribe(c.id)

	h.mutex.Lock()
	delete(h.clients, c.id)
	h.mutex.Unlock()

	metrics.DashboardSubscribers.Dec()
	h.logger.Infof("Dashboard client %s disconnected", c.id)
}

// readLoop 处理订阅控制帧
func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warnf("Dashboard client %s sent malformed control frame: %v", c.id, err)
			continue
		}
		if frame.Data.StationID == "" {
			h.logger.Warnf("Dashboard client %s sent %s without stationId", c.id, frame.Type)
			continue
		}

		switch frame.Type {
		case "subscribe":
			h.bus.AddStation(c.id, frame.Data.StationID)
			h.logger.Debugf("Dashboard client %s subscribed to %s", c.id, frame.Data.StationID)
		case "unsubscribe":
			h.bus.RemoveStation(c.id, frame.Data.StationID)
			h.logger.Debugf("Dashboard client %s unsubscribed from %s", c.id, frame.Data.StationID)
		default:
			h.logger.Warnf("Dashboard client %s sent unknown control type %q", c.id, frame.Type)
		}
	}
}

// writeLoop 将订阅的事件以仪表盘帧推送给客户端
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-c.queue:
			if !ok {
				return
			}
			data, err := event.ToFrame()
			if err != nil {
				h.logger.ErrorWithErr(err, "Failed to serialize dashboard event")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debugf("Dashboard client %s write failed: %v", c.id, err)
				c.cancel()
				return
			}
		}
	}
}
