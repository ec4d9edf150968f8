package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/eventbus"
	"github.com/charging-platform/central-system/internal/logger"
)

func newTestHub(t *testing.T) (*Hub, *eventbus.Bus, *events.EventFactory, *httptest.Server) {
	t.Helper()

	bus := eventbus.NewBus(nil, logger.NewNop())
	require.NoError(t, bus.Start())

	hub := NewHub(nil, bus, logger.NewNop())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))

	t.Cleanup(func() {
		hub.Stop()
		bus.Stop()
		server.Close()
	})

	factory := events.NewEventFactory(clock.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
	return hub, bus, factory, server
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, stationID string) {
	t.Helper()
	frame := `{"type":"subscribe","data":{"stationId":"` + stationID + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestHub_SubscribeReceivesEvents(t *testing.T) {
	hub, bus, factory, server := newTestHub(t)

	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	subscribe(t, conn, "CP001")
	require.Eventually(t, func() bool {
		bus.Publish(factory.CreateStationUpdate("CP001", events.StationData{
			Status:     "Available",
			Registered: true,
		}))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	// 订阅生效后每个匹配事件都被推送
	bus.Publish(factory.CreateStationUpdate("CP001", events.StationData{
		Status:     "Unavailable",
		Registered: true,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type string `json:"type"`
		Data struct {
			ChargePointID string `json:"chargePointId"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "station_update", frame.Type)
	assert.Equal(t, "CP001", frame.Data.ChargePointID)
	assert.Equal(t, "Unavailable", frame.Data.Status)
}

func TestHub_OtherStationsFiltered(t *testing.T) {
	hub, bus, factory, server := newTestHub(t)

	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	subscribe(t, conn, "CP001")
	// 等订阅控制帧被处理
	time.Sleep(100 * time.Millisecond)

	bus.Publish(factory.CreateStationUpdate("CP999", events.StationData{Status: "Available"}))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "event for unsubscribed station must not be delivered")
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, factory, server := newTestHub(t)

	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	subscribe(t, conn, "CP001")
	require.Eventually(t, func() bool {
		bus.Publish(factory.CreateStationUpdate("CP001", events.StationData{Status: "Available"}))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	frame := `{"type":"unsubscribe","data":{"stationId":"CP001"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	time.Sleep(100 * time.Millisecond)

	// 清空退订前可能已入队的事件
	for {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	bus.Publish(factory.CreateStationUpdate("CP001", events.StationData{Status: "Faulted"}))
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "events after unsubscribe must not be delivered")
}

func TestHub_MalformedControlFrameIgnored(t *testing.T) {
	hub, bus, factory, server := newTestHub(t)

	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","data":{}}`)))

	// 连接不受影响，后续订阅正常工作
	subscribe(t, conn, "CP001")
	require.Eventually(t, func() bool {
		bus.Publish(factory.CreateStationUpdate("CP001", events.StationData{Status: "Available"}))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHub_DisconnectRemovesSubscriber(t *testing.T) {
	hub, bus, _, server := newTestHub(t)

	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1 && bus.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0 && bus.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}
