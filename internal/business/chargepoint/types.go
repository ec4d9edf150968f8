package chargepoint

import (
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/domain/ocpp16"
)

// MeterSnapshot 连接器的主电能读数
// 始终指向Energy.Active.Import.Register或.Interval测量值
type MeterSnapshot struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading 主电能之外的测量值（功率、电压、电流等）
type Reading struct {
	Measurand string    `json:"measurand"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key 读数合并键，按测量值与相位区分
func (r Reading) Key() string {
	if r.Phase != "" {
		return r.Measurand + "." + r.Phase
	}
	return r.Measurand
}

// ConnectorState 单个连接器的运行状态
// 连接器0是伪连接器，对应字段保存在ChargePoint顶层
type ConnectorState struct {
	ID              int
	Status          ocpp16.ChargePointStatus
	ErrorCode       string
	Info            string
	VendorErrorCode string
	Meter           *MeterSnapshot
	Readings        map[string]Reading
	StatusUpdatedAt time.Time
	TransactionID   *int
	IdTag           string
}

// ChargePoint 站点状态，首个BootNotification时创建，进程生命周期内不销毁
type ChargePoint struct {
	ID              string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string

	Registered    bool
	RegisteredAt  time.Time
	LastHeartbeat time.Time

	// 连接器0映射出的站级字段
	Status          ocpp16.ChargePointStatus
	ErrorCode       string
	Info            string
	StatusUpdatedAt time.Time

	Connectors map[int]*ConnectorState

	mutex sync.Mutex
}

// ConnectorSnapshot 连接器状态快照
type ConnectorSnapshot struct {
	ID              int                `json:"connectorId"`
	Status          string             `json:"status,omitempty"`
	ErrorCode       string             `json:"errorCode,omitempty"`
	Info            string             `json:"info,omitempty"`
	VendorErrorCode string             `json:"vendorErrorCode,omitempty"`
	Meter           *MeterSnapshot     `json:"meter,omitempty"`
	Readings        map[string]Reading `json:"readings,omitempty"`
	StatusUpdatedAt *time.Time         `json:"statusUpdatedAt,omitempty"`
	TransactionID   *int               `json:"transactionId,omitempty"`
	IdTag           string             `json:"idTag,omitempty"`
}

// Snapshot 站点状态的深拷贝快照，读取方永远看不到中间状态
type Snapshot struct {
	ID              string              `json:"chargePointId"`
	Vendor          string              `json:"vendor,omitempty"`
	Model           string              `json:"model,omitempty"`
	SerialNumber    string              `json:"serialNumber,omitempty"`
	FirmwareVersion string              `json:"firmwareVersion,omitempty"`
	Registered      bool                `json:"registered"`
	RegisteredAt    *time.Time          `json:"registeredAt,omitempty"`
	LastHeartbeat   *time.Time          `json:"lastHeartbeat,omitempty"`
	Status          string              `json:"status,omitempty"`
	ErrorCode       string              `json:"errorCode,omitempty"`
	Info            string              `json:"info,omitempty"`
	Connectors      []ConnectorSnapshot `json:"connectors"`
}

// snapshotLocked 生成深拷贝快照，调用方必须持有cp.mutex
func (cp *ChargePoint) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              cp.ID,
		Vendor:          cp.Vendor,
		Model:           cp.Model,
		SerialNumber:    cp.SerialNumber,
		FirmwareVersion: cp.FirmwareVersion,
		Registered:      cp.Registered,
		Status:          string(cp.Status),
		ErrorCode:       cp.ErrorCode,
		Info:            cp.Info,
		Connectors:      make([]ConnectorSnapshot, 0, len(cp.Connectors)),
	}
	if !cp.RegisteredAt.IsZero() {
		registeredAt := cp.RegisteredAt
		snap.RegisteredAt = &registeredAt
	}
	if !cp.LastHeartbeat.IsZero() {
		lastHeartbeat := cp.LastHeartbeat
		snap.LastHeartbeat = &lastHeartbeat
	}

	for _, connector := range cp.Connectors {
		snap.Connectors = append(snap.Connectors, connector.snapshot())
	}
	sort.Slice(snap.Connectors, func(i, j int) bool {
		return snap.Connectors[i].ID < snap.Connectors[j].ID
	})
	return snap
}

func (c *ConnectorState) snapshot() ConnectorSnapshot {
	snap := ConnectorSnapshot{
		ID:              c.ID,
		Status:          string(c.Status),
		ErrorCode:       c.ErrorCode,
		Info:            c.Info,
		VendorErrorCode: c.VendorErrorCode,
		IdTag:           c.IdTag,
	}
	if c.Meter != nil {
		meter := *c.Meter
		snap.Meter = &meter
	}
	if len(c.Readings) > 0 {
		snap.Readings = make(map[string]Reading, len(c.Readings))
		for key, reading := range c.Readings {
			snap.Readings[key] = reading
		}
	}
	if !c.StatusUpdatedAt.IsZero() {
		updatedAt := c.StatusUpdatedAt
		snap.StatusUpdatedAt = &updatedAt
	}
	if c.TransactionID != nil {
		txnID := *c.TransactionID
		snap.TransactionID = &txnID
	}
	return snap
}
