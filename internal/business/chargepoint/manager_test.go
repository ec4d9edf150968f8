package chargepoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
)

// capturePublisher 记录所有发布的事件
type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(event events.Event) {
	p.events = append(p.events, event)
}

func (p *capturePublisher) last() events.Event {
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestManager(t *testing.T, now time.Time) (*Manager, *capturePublisher, *clock.ManualClock) {
	t.Helper()
	publisher := &capturePublisher{}
	clk := clock.NewManualClock(now)
	return NewManager(clk, logger.NewNop(), publisher), publisher, clk
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func bootRequest() *ocpp16.BootNotificationRequest {
	return &ocpp16.BootNotificationRequest{
		ChargePointVendor: "VendorX",
		ChargePointModel:  "ModelY",
		FirmwareVersion:   strPtr("1.2.3"),
	}
}

func statusRequest(connectorID int, status ocpp16.ChargePointStatus) *ocpp16.StatusNotificationRequest {
	return &ocpp16.StatusNotificationRequest{
		ConnectorId: intPtr(connectorID),
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      status,
	}
}

func TestManager_HandleBootNotification(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, _ := newTestManager(t, now)

	manager.HandleBootNotification("CP001", bootRequest())

	snap, exists := manager.Get("CP001")
	require.True(t, exists)
	assert.True(t, snap.Registered)
	assert.Equal(t, "VendorX", snap.Vendor)
	assert.Equal(t, "ModelY", snap.Model)
	assert.Equal(t, "1.2.3", snap.FirmwareVersion)
	require.NotNil(t, snap.RegisteredAt)
	assert.Equal(t, now, *snap.RegisteredAt)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.EventTypeStationUpdate, publisher.last().GetType())
	assert.Equal(t, "CP001", publisher.last().GetChargePointID())
}

func TestManager_HandleBootNotification_Upsert(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, clk := newTestManager(t, now)

	manager.HandleBootNotification("CP001", bootRequest())

	clk.Advance(time.Hour)
	updated := bootRequest()
	updated.FirmwareVersion = strPtr("2.0.0")
	manager.HandleBootNotification("CP001", updated)

	snap, _ := manager.Get("CP001")
	assert.Equal(t, "2.0.0", snap.FirmwareVersion)
	assert.Equal(t, now.Add(time.Hour), *snap.RegisteredAt)
	assert.Equal(t, 1, manager.Count())
}

func TestManager_HandleHeartbeat(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, clk := newTestManager(t, now)

	// 未注册站点
	assert.False(t, manager.HandleHeartbeat("UNKNOWN"))
	assert.Empty(t, publisher.events)

	manager.HandleBootNotification("CP001", bootRequest())
	clk.Advance(5 * time.Minute)
	require.True(t, manager.HandleHeartbeat("CP001"))

	snap, _ := manager.Get("CP001")
	require.NotNil(t, snap.LastHeartbeat)
	assert.Equal(t, now.Add(5*time.Minute), *snap.LastHeartbeat)
	assert.Len(t, publisher.events, 2)
}

func TestManager_StatusNotification_ConnectorZero(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	require.True(t, manager.HandleStatusNotification("CP001", statusRequest(0, ocpp16.ChargePointStatusAvailable)))

	snap, _ := manager.Get("CP001")
	assert.Equal(t, "Available", snap.Status)
	// connectorId=0不产生连接器条目
	assert.Empty(t, snap.Connectors)
	assert.Equal(t, events.EventTypeStationUpdate, publisher.last().GetType())
}

func TestManager_StatusNotification_Connector(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	require.True(t, manager.HandleStatusNotification("CP001", statusRequest(1, ocpp16.ChargePointStatusPreparing)))

	snap, _ := manager.Get("CP001")
	// 连接器状态不影响站级状态
	assert.Empty(t, snap.Status)
	require.Len(t, snap.Connectors, 1)
	assert.Equal(t, 1, snap.Connectors[0].ID)
	assert.Equal(t, "Preparing", snap.Connectors[0].Status)
	assert.Equal(t, events.EventTypeConnectorUpdate, publisher.last().GetType())
}

func TestManager_StatusNotification_Coalescing(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, clk := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	manager.HandleStatusNotification("CP001", statusRequest(1, ocpp16.ChargePointStatusCharging))
	countAfterFirst := len(publisher.events)

	// 完全相同的通知：statusUpdatedAt推进，不再发布事件
	clk.Advance(time.Minute)
	manager.HandleStatusNotification("CP001", statusRequest(1, ocpp16.ChargePointStatusCharging))

	assert.Len(t, publisher.events, countAfterFirst)
	snap, _ := manager.Get("CP001")
	require.NotNil(t, snap.Connectors[0].StatusUpdatedAt)
	assert.Equal(t, now.Add(time.Minute), *snap.Connectors[0].StatusUpdatedAt)

	// 状态变化后恢复发布
	manager.HandleStatusNotification("CP001", statusRequest(1, ocpp16.ChargePointStatusFinishing))
	assert.Len(t, publisher.events, countAfterFirst+1)
}

func TestManager_StatusNotification_PayloadTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	reported := now.Add(-10 * time.Minute)
	req := statusRequest(1, ocpp16.ChargePointStatusAvailable)
	timestamp := ocpp16.NewDateTime(reported)
	req.Timestamp = &timestamp
	manager.HandleStatusNotification("CP001", req)

	snap, _ := manager.Get("CP001")
	assert.Equal(t, reported, *snap.Connectors[0].StatusUpdatedAt)
}

func TestManager_UpdateMeter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	first := &MeterSnapshot{Value: 1000, Unit: "Wh", Timestamp: now}
	require.True(t, manager.UpdateMeter("CP001", 1, first, nil))

	snap, _ := manager.Get("CP001")
	require.NotNil(t, snap.Connectors[0].Meter)
	assert.Equal(t, float64(1000), snap.Connectors[0].Meter.Value)
	assert.Equal(t, events.EventTypeConnectorUpdate, publisher.last().GetType())

	// 更旧的时间戳不回退快照
	stale := &MeterSnapshot{Value: 500, Unit: "Wh", Timestamp: now.Add(-time.Hour)}
	manager.UpdateMeter("CP001", 1, stale, nil)
	snap, _ = manager.Get("CP001")
	assert.Equal(t, float64(1000), snap.Connectors[0].Meter.Value)

	// 更新的时间戳替换快照
	newer := &MeterSnapshot{Value: 1500, Unit: "Wh", Timestamp: now.Add(time.Hour)}
	manager.UpdateMeter("CP001", 1, newer, nil)
	snap, _ = manager.Get("CP001")
	assert.Equal(t, float64(1500), snap.Connectors[0].Meter.Value)
}

func TestManager_UpdateMeter_MergesReadings(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	manager.UpdateMeter("CP001", 1, nil, []Reading{
		{Measurand: "Power.Active.Import", Value: 7200, Unit: "W", Timestamp: now},
		{Measurand: "Voltage", Value: 230, Unit: "V", Phase: "L1", Timestamp: now},
	})
	manager.UpdateMeter("CP001", 1, nil, []Reading{
		{Measurand: "Power.Active.Import", Value: 6800, Unit: "W", Timestamp: now.Add(time.Minute)},
	})

	snap, _ := manager.Get("CP001")
	readings := snap.Connectors[0].Readings
	require.Len(t, readings, 2)
	assert.Equal(t, float64(6800), readings["Power.Active.Import"].Value)
	assert.Equal(t, float64(230), readings["Voltage.L1"].Value)
}

func TestManager_SetConnectorTxnBinding(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, publisher, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	txnID := 42
	require.True(t, manager.SetConnectorTxnBinding("CP001", 1, &txnID, "TAG001"))

	snap, _ := manager.Get("CP001")
	require.NotNil(t, snap.Connectors[0].TransactionID)
	assert.Equal(t, 42, *snap.Connectors[0].TransactionID)
	assert.Equal(t, "TAG001", snap.Connectors[0].IdTag)
	assert.Equal(t, events.EventTypePaymentUpdate, publisher.last().GetType())

	// 解除绑定
	manager.SetConnectorTxnBinding("CP001", 1, nil, "")
	snap, _ = manager.Get("CP001")
	assert.Nil(t, snap.Connectors[0].TransactionID)
	assert.Empty(t, snap.Connectors[0].IdTag)
}

func TestManager_SetStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(t, now)
	manager.HandleBootNotification("CP001", bootRequest())

	require.True(t, manager.SetStatus("CP001", ocpp16.ChargePointStatusCharging))
	require.True(t, manager.SetConnectorStatus("CP001", 1, ocpp16.ChargePointStatusCharging))

	snap, _ := manager.Get("CP001")
	assert.Equal(t, "Charging", snap.Status)
	assert.Equal(t, "Charging", snap.Connectors[0].Status)

	assert.False(t, manager.SetStatus("UNKNOWN", ocpp16.ChargePointStatusAvailable))
}

func TestManager_IsRegistered(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(t, now)

	assert.False(t, manager.IsRegistered("CP001"))
	manager.HandleBootNotification("CP001", bootRequest())
	assert.True(t, manager.IsRegistered("CP001"))
}

func TestManager_List_SortedAndIsolated(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(t, now)

	manager.HandleBootNotification("CP002", bootRequest())
	manager.HandleBootNotification("CP001", bootRequest())

	list := manager.List()
	require.Len(t, list, 2)
	assert.Equal(t, "CP001", list[0].ID)
	assert.Equal(t, "CP002", list[1].ID)

	// 快照是深拷贝，修改不回写
	list[0].Vendor = "mutated"
	snap, _ := manager.Get("CP001")
	assert.Equal(t, "VendorX", snap.Vendor)
}
