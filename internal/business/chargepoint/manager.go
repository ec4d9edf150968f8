package chargepoint

import (
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
)

// Publisher 状态变化事件的发布端，由事件总线实现
// 发布不得阻塞调用方
type Publisher interface {
	Publish(event events.Event)
}

// Manager 充电桩注册表
// 站点记录在首个BootNotification时创建，变更按站点串行化；
// 每次有效变更恰好发布一个增量事件
type Manager struct {
	stations map[string]*ChargePoint
	mutex    sync.RWMutex

	clock     clock.Clock
	logger    *logger.Logger
	factory   *events.EventFactory
	publisher Publisher
}

// NewManager 创建充电桩注册表
// publisher可为nil，此时不发布事件
func NewManager(clk clock.Clock, log *logger.Logger, publisher Publisher) *Manager {
	return &Manager{
		stations:  make(map[string]*ChargePoint),
		clock:     clk,
		logger:    log,
		factory:   events.NewEventFactory(clk),
		publisher: publisher,
	}
}

func (m *Manager) publish(event events.Event) {
	if m.publisher != nil {
		m.publisher.Publish(event)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// getOrCreate 获取站点记录，不存在则创建
func (m *Manager) getOrCreate(stationID string) *ChargePoint {
	m.mutex.RLock()
	cp, exists := m.stations[stationID]
	m.mutex.RUnlock()
	if exists {
		return cp
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if cp, exists = m.stations[stationID]; exists {
		return cp
	}
	cp = &ChargePoint{
		ID:         stationID,
		Connectors: make(map[int]*ConnectorState),
	}
	m.stations[stationID] = cp
	return cp
}

// get 获取已存在的站点记录
func (m *Manager) get(stationID string) (*ChargePoint, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	cp, exists := m.stations[stationID]
	return cp, exists
}

// HandleBootNotification 登记站点身份并标记已注册
func (m *Manager) HandleBootNotification(stationID string, req *ocpp16.BootNotificationRequest) {
	cp := m.getOrCreate(stationID)
	now := m.clock.Now()

	cp.mutex.Lock()
	cp.Vendor = req.ChargePointVendor
	cp.Model = req.ChargePointModel
	cp.SerialNumber = deref(req.ChargePointSerialNumber)
	cp.FirmwareVersion = deref(req.FirmwareVersion)
	cp.Registered = true
	cp.RegisteredAt = now
	data := events.StationData{
		Status:     string(cp.Status),
		Vendor:     cp.Vendor,
		Model:      cp.Model,
		Registered: true,
		Timestamp:  clock.FormatISO(now),
	}
	cp.mutex.Unlock()

	m.logger.Infof("Charge point registered: %s (%s %s)", stationID, req.ChargePointVendor, req.ChargePointModel)
	m.publish(m.factory.CreateStationUpdate(stationID, data))
}

// HandleHeartbeat 更新最近心跳时间
// 站点未注册时返回false且不发布事件
func (m *Manager) HandleHeartbeat(stationID string) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}
	now := m.clock.Now()

	cp.mutex.Lock()
	cp.LastHeartbeat = now
	data := events.StationData{
		Status:        string(cp.Status),
		Registered:    cp.Registered,
		LastHeartbeat: clock.FormatISO(now),
		Timestamp:     clock.FormatISO(now),
	}
	cp.mutex.Unlock()

	m.publish(m.factory.CreateStationUpdate(stationID, data))
	return true
}

// HandleStatusNotification 处理状态通知
// connectorId=0只改站级字段，connectorId>=1只改对应连接器；
// 与上一条完全相同的状态只推进statusUpdatedAt且不再发布事件
func (m *Manager) HandleStatusNotification(stationID string, req *ocpp16.StatusNotificationRequest) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}

	statusTime := m.clock.Now()
	if req.Timestamp != nil {
		statusTime = req.Timestamp.Time
	}
	connectorID := 0
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	if connectorID == 0 {
		m.applyStationStatus(cp, req, statusTime)
	} else {
		m.applyConnectorStatus(cp, connectorID, req, statusTime)
	}
	return true
}

func (m *Manager) applyStationStatus(cp *ChargePoint, req *ocpp16.StatusNotificationRequest, statusTime time.Time) {
	info := deref(req.Info)

	cp.mutex.Lock()
	unchanged := cp.Status == req.Status &&
		cp.ErrorCode == string(req.ErrorCode) &&
		cp.Info == info
	cp.Status = req.Status
	cp.ErrorCode = string(req.ErrorCode)
	cp.Info = info
	cp.StatusUpdatedAt = statusTime
	data := events.StationData{
		Status:     string(cp.Status),
		ErrorCode:  cp.ErrorCode,
		Info:       cp.Info,
		Registered: cp.Registered,
		Timestamp:  clock.FormatISO(statusTime),
	}
	stationID := cp.ID
	cp.mutex.Unlock()

	if unchanged {
		return
	}
	m.logger.Infof("Station %s status: %s (%s)", stationID, req.Status, req.ErrorCode)
	m.publish(m.factory.CreateStationUpdate(stationID, data))
}

func (m *Manager) applyConnectorStatus(cp *ChargePoint, connectorID int, req *ocpp16.StatusNotificationRequest, statusTime time.Time) {
	info := deref(req.Info)

	cp.mutex.Lock()
	connector, exists := cp.Connectors[connectorID]
	if !exists {
		connector = &ConnectorState{ID: connectorID}
		cp.Connectors[connectorID] = connector
	}
	unchanged := exists &&
		connector.Status == req.Status &&
		connector.ErrorCode == string(req.ErrorCode) &&
		connector.Info == info
	connector.Status = req.Status
	connector.ErrorCode = string(req.ErrorCode)
	connector.Info = info
	connector.VendorErrorCode = deref(req.VendorErrorCode)
	connector.StatusUpdatedAt = statusTime
	data := events.ConnectorData{
		ConnectorID: connectorID,
		Status:      string(connector.Status),
		ErrorCode:   connector.ErrorCode,
		Info:        connector.Info,
		Timestamp:   clock.FormatISO(statusTime),
	}
	stationID := cp.ID
	cp.mutex.Unlock()

	if unchanged {
		return
	}
	m.logger.Infof("Station %s connector %d status: %s (%s)", stationID, connectorID, req.Status, req.ErrorCode)
	m.publish(m.factory.CreateConnectorUpdate(stationID, data))
}

// UpdateMeter 更新连接器电表快照并合并附加读数
// 快照时间戳早于已存储值时保留旧快照，附加读数仍然合并
func (m *Manager) UpdateMeter(stationID string, connectorID int, snapshot *MeterSnapshot, additional []Reading) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}

	cp.mutex.Lock()
	connector, connectorExists := cp.Connectors[connectorID]
	if !connectorExists {
		connector = &ConnectorState{ID: connectorID}
		cp.Connectors[connectorID] = connector
	}

	if snapshot != nil {
		if connector.Meter == nil || !snapshot.Timestamp.Before(connector.Meter.Timestamp) {
			meter := *snapshot
			connector.Meter = &meter
		}
	}
	if len(additional) > 0 {
		if connector.Readings == nil {
			connector.Readings = make(map[string]Reading, len(additional))
		}
		for _, reading := range additional {
			connector.Readings[reading.Key()] = reading
		}
	}

	data := events.ConnectorData{
		ConnectorID: connectorID,
		Status:      string(connector.Status),
		Timestamp:   clock.FormatISO(m.clock.Now()),
	}
	if connector.Meter != nil {
		data.Meter = &events.MeterData{
			Value:     connector.Meter.Value,
			Unit:      connector.Meter.Unit,
			Timestamp: clock.FormatISO(connector.Meter.Timestamp),
		}
	}
	cp.mutex.Unlock()

	m.publish(m.factory.CreateConnectorUpdate(stationID, data))
	return true
}

// SetStatus 设置站级状态，交易启停时由调度器调用
func (m *Manager) SetStatus(stationID string, status ocpp16.ChargePointStatus) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}
	now := m.clock.Now()

	cp.mutex.Lock()
	cp.Status = status
	cp.StatusUpdatedAt = now
	data := events.StationData{
		Status:     string(status),
		ErrorCode:  cp.ErrorCode,
		Registered: cp.Registered,
		Timestamp:  clock.FormatISO(now),
	}
	cp.mutex.Unlock()

	m.publish(m.factory.CreateStationUpdate(stationID, data))
	return true
}

// SetConnectorStatus 设置连接器状态
func (m *Manager) SetConnectorStatus(stationID string, connectorID int, status ocpp16.ChargePointStatus) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}
	now := m.clock.Now()

	cp.mutex.Lock()
	connector, connectorExists := cp.Connectors[connectorID]
	if !connectorExists {
		connector = &ConnectorState{ID: connectorID}
		cp.Connectors[connectorID] = connector
	}
	connector.Status = status
	connector.StatusUpdatedAt = now
	data := events.ConnectorData{
		ConnectorID: connectorID,
		Status:      string(status),
		ErrorCode:   connector.ErrorCode,
		Timestamp:   clock.FormatISO(now),
	}
	cp.mutex.Unlock()

	m.publish(m.factory.CreateConnectorUpdate(stationID, data))
	return true
}

// SetConnectorTxnBinding 绑定或解除连接器与交易的关系
// txnID为nil表示解除绑定
func (m *Manager) SetConnectorTxnBinding(stationID string, connectorID int, txnID *int, idTag string) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}
	now := m.clock.Now()

	cp.mutex.Lock()
	connector, connectorExists := cp.Connectors[connectorID]
	if !connectorExists {
		connector = &ConnectorState{ID: connectorID}
		cp.Connectors[connectorID] = connector
	}
	if txnID != nil {
		id := *txnID
		connector.TransactionID = &id
		connector.IdTag = idTag
	} else {
		connector.TransactionID = nil
		connector.IdTag = ""
	}
	data := events.PaymentData{
		ConnectorID:   connectorID,
		TransactionID: connector.TransactionID,
		IdTag:         connector.IdTag,
		Timestamp:     clock.FormatISO(now),
	}
	cp.mutex.Unlock()

	m.publish(m.factory.CreatePaymentUpdate(stationID, data))
	return true
}

// IsRegistered 站点是否已通过BootNotification注册
func (m *Manager) IsRegistered(stationID string) bool {
	cp, exists := m.get(stationID)
	if !exists {
		return false
	}
	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	return cp.Registered
}

// Get 返回站点状态快照
func (m *Manager) Get(stationID string) (Snapshot, bool) {
	cp, exists := m.get(stationID)
	if !exists {
		return Snapshot{}, false
	}
	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	return cp.snapshotLocked(), true
}

// List 返回所有站点快照，按ID排序
func (m *Manager) List() []Snapshot {
	m.mutex.RLock()
	stations := make([]*ChargePoint, 0, len(m.stations))
	for _, cp := range m.stations {
		stations = append(stations, cp)
	}
	m.mutex.RUnlock()

	result := make([]Snapshot, 0, len(stations))
	for _, cp := range stations {
		cp.mutex.Lock()
		result = append(result, cp.snapshotLocked())
		cp.mutex.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Count 站点数量
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.stations)
}
