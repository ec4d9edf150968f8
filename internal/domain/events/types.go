package events

// EventType 仪表盘增量事件类型
type EventType string

const (
	// EventTypeStationUpdate 站级状态变化（注册、心跳、站级状态通知）
	EventTypeStationUpdate EventType = "station_update"
	// EventTypeConnectorUpdate 连接器级变化（状态通知、电表快照）
	EventTypeConnectorUpdate EventType = "connector_update"
	// EventTypePaymentUpdate 连接器与交易绑定关系变化
	EventTypePaymentUpdate EventType = "payment_update"
)

// StationData station_update事件载荷
type StationData struct {
	ChargePointID string `json:"chargePointId"`
	Status        string `json:"status,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Info          string `json:"info,omitempty"`
	Vendor        string `json:"vendor,omitempty"`
	Model         string `json:"model,omitempty"`
	Registered    bool   `json:"registered"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// MeterData 连接器电表快照
type MeterData struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}

// ConnectorData connector_update事件载荷
type ConnectorData struct {
	ChargePointID string     `json:"chargePointId"`
	ConnectorID   int        `json:"connectorId"`
	Status        string     `json:"status,omitempty"`
	ErrorCode     string     `json:"errorCode,omitempty"`
	Info          string     `json:"info,omitempty"`
	Meter         *MeterData `json:"meter,omitempty"`
	TransactionID *int       `json:"transactionId,omitempty"`
	Timestamp     string     `json:"timestamp"`
}

// PaymentData payment_update事件载荷
// TransactionID为nil表示绑定已解除
type PaymentData struct {
	ChargePointID string `json:"chargePointId"`
	ConnectorID   int    `json:"connectorId"`
	TransactionID *int   `json:"transactionId,omitempty"`
	IdTag         string `json:"idTag,omitempty"`
	Timestamp     string `json:"timestamp"`
}
