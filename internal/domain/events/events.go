package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/charging-platform/central-system/internal/clock"
)

// Event 仪表盘增量事件接口
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetChargePointID 获取充电桩ID
	GetChargePointID() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// ToFrame 序列化为仪表盘帧 {"type":..., "data":{...}}
	ToFrame() ([]byte, error)
	// ToJSON 序列化完整事件信封
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	ChargePointID string    `json:"chargePointId"`
	Timestamp     time.Time `json:"timestamp"`
}

// GetID 实现Event接口
func (e *BaseEvent) GetID() string {
	return e.ID
}

// GetType 实现Event接口
func (e *BaseEvent) GetType() EventType {
	return e.Type
}

// GetChargePointID 实现Event接口
func (e *BaseEvent) GetChargePointID() string {
	return e.ChargePointID
}

// GetTimestamp 实现Event接口
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

type frameEnvelope struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

func marshalFrame(eventType EventType, data interface{}) ([]byte, error) {
	return json.Marshal(frameEnvelope{Type: eventType, Data: data})
}

// StationUpdateEvent 站级状态变化事件
type StationUpdateEvent struct {
	*BaseEvent
	Data StationData `json:"data"`
}

// ToFrame 实现Event接口
func (e *StationUpdateEvent) ToFrame() ([]byte, error) {
	return marshalFrame(e.Type, e.Data)
}

// ToJSON 实现Event接口
func (e *StationUpdateEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ConnectorUpdateEvent 连接器级变化事件
type ConnectorUpdateEvent struct {
	*BaseEvent
	Data ConnectorData `json:"data"`
}

// ToFrame 实现Event接口
func (e *ConnectorUpdateEvent) ToFrame() ([]byte, error) {
	return marshalFrame(e.Type, e.Data)
}

// ToJSON 实现Event接口
func (e *ConnectorUpdateEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// PaymentUpdateEvent 交易绑定变化事件
type PaymentUpdateEvent struct {
	*BaseEvent
	Data PaymentData `json:"data"`
}

// ToFrame 实现Event接口
func (e *PaymentUpdateEvent) ToFrame() ([]byte, error) {
	return marshalFrame(e.Type, e.Data)
}

// ToJSON 实现Event接口
func (e *PaymentUpdateEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFactory 事件工厂，统一填充ID与时间戳
type EventFactory struct {
	clock clock.Clock
}

// NewEventFactory 创建事件工厂
func NewEventFactory(clk clock.Clock) *EventFactory {
	return &EventFactory{clock: clk}
}

func (f *EventFactory) newBaseEvent(eventType EventType, chargePointID string) *BaseEvent {
	return &BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		ChargePointID: chargePointID,
		Timestamp:     f.clock.Now(),
	}
}

// CreateStationUpdate 创建station_update事件
func (f *EventFactory) CreateStationUpdate(chargePointID string, data StationData) *StationUpdateEvent {
	base := f.newBaseEvent(EventTypeStationUpdate, chargePointID)
	data.ChargePointID = chargePointID
	if data.Timestamp == "" {
		data.Timestamp = clock.FormatISO(base.Timestamp)
	}
	return &StationUpdateEvent{BaseEvent: base, Data: data}
}

// CreateConnectorUpdate 创建connector_update事件
func (f *EventFactory) CreateConnectorUpdate(chargePointID string, data ConnectorData) *ConnectorUpdateEvent {
	base := f.newBaseEvent(EventTypeConnectorUpdate, chargePointID)
	data.ChargePointID = chargePointID
	if data.Timestamp == "" {
		data.Timestamp = clock.FormatISO(base.Timestamp)
	}
	return &ConnectorUpdateEvent{BaseEvent: base, Data: data}
}

// CreatePaymentUpdate 创建payment_update事件
func (f *EventFactory) CreatePaymentUpdate(chargePointID string, data PaymentData) *PaymentUpdateEvent {
	base := f.newBaseEvent(EventTypePaymentUpdate, chargePointID)
	data.ChargePointID = chargePointID
	if data.Timestamp == "" {
		data.Timestamp = clock.FormatISO(base.Timestamp)
	}
	return &PaymentUpdateEvent{BaseEvent: base, Data: data}
}
