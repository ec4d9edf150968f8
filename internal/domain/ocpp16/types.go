package ocpp16

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charging-platform/central-system/internal/clock"
)

// MessageType OCPP消息类型
type MessageType int

const (
	// Call 请求消息
	Call MessageType = 2
	// CallResult 响应消息
	CallResult MessageType = 3
	// CallError 错误消息
	CallError MessageType = 4
)

// Action OCPP动作类型
type Action string

// 中央系统支持的动作：充电桩发起的8个核心动作 + 服务端发起的远程控制动作
const (
	ActionAuthorize              Action = "Authorize"
	ActionBootNotification       Action = "BootNotification"
	ActionDataTransfer           Action = "DataTransfer"
	ActionHeartbeat              Action = "Heartbeat"
	ActionMeterValues            Action = "MeterValues"
	ActionRemoteStartTransaction Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  Action = "RemoteStopTransaction"
	ActionStartTransaction       Action = "StartTransaction"
	ActionStatusNotification     Action = "StatusNotification"
	ActionStopTransaction        Action = "StopTransaction"
)

// MaxActionLength 动作名称最大长度
const MaxActionLength = 36

// MaxMessageIDLength 消息ID最大长度
const MaxMessageIDLength = 36

// ChargePointStatus 充电桩/连接器状态，OCPP 1.6定义的九种取值
type ChargePointStatus string

const (
	ChargePointStatusAvailable     ChargePointStatus = "Available"
	ChargePointStatusPreparing     ChargePointStatus = "Preparing"
	ChargePointStatusCharging      ChargePointStatus = "Charging"
	ChargePointStatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	ChargePointStatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	ChargePointStatusFinishing     ChargePointStatus = "Finishing"
	ChargePointStatusReserved      ChargePointStatus = "Reserved"
	ChargePointStatusUnavailable   ChargePointStatus = "Unavailable"
	ChargePointStatusFaulted       ChargePointStatus = "Faulted"
)

var chargePointStatuses = map[ChargePointStatus]bool{
	ChargePointStatusAvailable:     true,
	ChargePointStatusPreparing:     true,
	ChargePointStatusCharging:      true,
	ChargePointStatusSuspendedEVSE: true,
	ChargePointStatusSuspendedEV:   true,
	ChargePointStatusFinishing:     true,
	ChargePointStatusReserved:      true,
	ChargePointStatusUnavailable:   true,
	ChargePointStatusFaulted:       true,
}

// Valid 检查状态是否为合法枚举值
func (s ChargePointStatus) Valid() bool {
	return chargePointStatuses[s]
}

// AllowsTransaction 进行中交易所允许的连接器状态
func (s ChargePointStatus) AllowsTransaction() bool {
	switch s {
	case ChargePointStatusPreparing, ChargePointStatusCharging,
		ChargePointStatusSuspendedEV, ChargePointStatusSuspendedEVSE,
		ChargePointStatusFinishing:
		return true
	}
	return false
}

// ChargePointErrorCode 充电桩错误代码
type ChargePointErrorCode string

const (
	ChargePointErrorCodeConnectorLockFailure ChargePointErrorCode = "ConnectorLockFailure"
	ChargePointErrorCodeEVCommunicationError ChargePointErrorCode = "EVCommunicationError"
	ChargePointErrorCodeGroundFailure        ChargePointErrorCode = "GroundFailure"
	ChargePointErrorCodeHighTemperature      ChargePointErrorCode = "HighTemperature"
	ChargePointErrorCodeInternalError        ChargePointErrorCode = "InternalError"
	ChargePointErrorCodeLocalListConflict    ChargePointErrorCode = "LocalListConflict"
	ChargePointErrorCodeNoError              ChargePointErrorCode = "NoError"
	ChargePointErrorCodeOtherError           ChargePointErrorCode = "OtherError"
	ChargePointErrorCodeOverCurrentFailure   ChargePointErrorCode = "OverCurrentFailure"
	ChargePointErrorCodeOverVoltage          ChargePointErrorCode = "OverVoltage"
	ChargePointErrorCodePowerMeterFailure    ChargePointErrorCode = "PowerMeterFailure"
	ChargePointErrorCodePowerSwitchFailure   ChargePointErrorCode = "PowerSwitchFailure"
	ChargePointErrorCodeReaderFailure        ChargePointErrorCode = "ReaderFailure"
	ChargePointErrorCodeResetFailure         ChargePointErrorCode = "ResetFailure"
	ChargePointErrorCodeUnderVoltage         ChargePointErrorCode = "UnderVoltage"
	ChargePointErrorCodeWeakSignal           ChargePointErrorCode = "WeakSignal"
)

var chargePointErrorCodes = map[ChargePointErrorCode]bool{
	ChargePointErrorCodeConnectorLockFailure: true,
	ChargePointErrorCodeEVCommunicationError: true,
	ChargePointErrorCodeGroundFailure:        true,
	ChargePointErrorCodeHighTemperature:      true,
	ChargePointErrorCodeInternalError:        true,
	ChargePointErrorCodeLocalListConflict:    true,
	ChargePointErrorCodeNoError:              true,
	ChargePointErrorCodeOtherError:           true,
	ChargePointErrorCodeOverCurrentFailure:   true,
	ChargePointErrorCodeOverVoltage:          true,
	ChargePointErrorCodePowerMeterFailure:    true,
	ChargePointErrorCodePowerSwitchFailure:   true,
	ChargePointErrorCodeReaderFailure:        true,
	ChargePointErrorCodeResetFailure:         true,
	ChargePointErrorCodeUnderVoltage:         true,
	ChargePointErrorCodeWeakSignal:           true,
}

// Valid 检查错误代码是否为合法枚举值
func (c ChargePointErrorCode) Valid() bool {
	return chargePointErrorCodes[c]
}

// RegistrationStatus 注册状态
type RegistrationStatus string

const (
	RegistrationStatusAccepted RegistrationStatus = "Accepted"
	RegistrationStatusPending  RegistrationStatus = "Pending"
	RegistrationStatusRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus 授权状态
type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

var authorizationStatuses = map[AuthorizationStatus]bool{
	AuthorizationStatusAccepted:     true,
	AuthorizationStatusBlocked:      true,
	AuthorizationStatusExpired:      true,
	AuthorizationStatusInvalid:      true,
	AuthorizationStatusConcurrentTx: true,
}

// Valid 检查授权状态是否为合法枚举值
func (s AuthorizationStatus) Valid() bool {
	return authorizationStatuses[s]
}

// Reason 交易停止原因
type Reason string

const (
	ReasonEmergencyStop  Reason = "EmergencyStop"
	ReasonEVDisconnected Reason = "EVDisconnected"
	ReasonHardReset      Reason = "HardReset"
	ReasonLocal          Reason = "Local"
	ReasonOther          Reason = "Other"
	ReasonPowerLoss      Reason = "PowerLoss"
	ReasonReboot         Reason = "Reboot"
	ReasonRemote         Reason = "Remote"
	ReasonSoftReset      Reason = "SoftReset"
	ReasonUnlockCommand  Reason = "UnlockCommand"
	ReasonDeAuthorized   Reason = "DeAuthorized"
)

var stopReasons = map[Reason]bool{
	ReasonEmergencyStop:  true,
	ReasonEVDisconnected: true,
	ReasonHardReset:      true,
	ReasonLocal:          true,
	ReasonOther:          true,
	ReasonPowerLoss:      true,
	ReasonReboot:         true,
	ReasonRemote:         true,
	ReasonSoftReset:      true,
	ReasonUnlockCommand:  true,
	ReasonDeAuthorized:   true,
}

// Valid 检查停止原因是否为合法枚举值
func (r Reason) Valid() bool {
	return stopReasons[r]
}

// RemoteStartStopStatus 远程启动/停止命令的应答状态
type RemoteStartStopStatus string

const (
	RemoteStartStopStatusAccepted RemoteStartStopStatus = "Accepted"
	RemoteStartStopStatusRejected RemoteStartStopStatus = "Rejected"
)

// Valid 检查远程命令应答状态是否合法
func (s RemoteStartStopStatus) Valid() bool {
	return s == RemoteStartStopStatusAccepted || s == RemoteStartStopStatusRejected
}

// DateTime OCPP时间类型
// 序列化为RFC3339 UTC毫秒精度，末尾带Z；反序列化接受任意RFC3339变体
type DateTime struct {
	time.Time
}

// NewDateTime 从time.Time构造DateTime
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t.UTC()}
}

// MarshalJSON 实现JSON序列化
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + clock.FormatISO(dt.Time) + `"`), nil
}

// UnmarshalJSON 实现JSON反序列化
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("datetime must be a string: %w", err)
	}
	if str == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return fmt.Errorf("invalid datetime %q: %w", str, err)
	}
	dt.Time = t.UTC()
	return nil
}

// IdTagInfo ID标签信息
type IdTagInfo struct {
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty"`
	ParentIdTag *string             `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
	Status      AuthorizationStatus `json:"status" validate:"required,ocpp_auth_status"`
}

// MeterValue 一次采样的电表读数集合
type MeterValue struct {
	Timestamp    DateTime       `json:"timestamp" validate:"required"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

// SampledValue 单个采样值
type SampledValue struct {
	Value     string          `json:"value" validate:"required,ocpp_meter_value"`
	Context   *ReadingContext `json:"context,omitempty" validate:"omitempty,ocpp_context"`
	Format    *ValueFormat    `json:"format,omitempty" validate:"omitempty,ocpp_format"`
	Measurand *Measurand      `json:"measurand,omitempty" validate:"omitempty,ocpp_measurand"`
	Phase     *Phase          `json:"phase,omitempty"`
	Location  *Location       `json:"location,omitempty"`
	Unit      *UnitOfMeasure  `json:"unit,omitempty" validate:"omitempty,ocpp_unit"`
}

// ReadingContext 读数上下文
type ReadingContext string

const (
	ReadingContextInterruptionBegin ReadingContext = "Interruption.Begin"
	ReadingContextInterruptionEnd   ReadingContext = "Interruption.End"
	ReadingContextSampleClock       ReadingContext = "Sample.Clock"
	ReadingContextSamplePeriodic    ReadingContext = "Sample.Periodic"
	ReadingContextTransactionBegin  ReadingContext = "Transaction.Begin"
	ReadingContextTransactionEnd    ReadingContext = "Transaction.End"
	ReadingContextTrigger           ReadingContext = "Trigger"
	ReadingContextOther             ReadingContext = "Other"
)

var readingContexts = map[ReadingContext]bool{
	ReadingContextInterruptionBegin: true,
	ReadingContextInterruptionEnd:   true,
	ReadingContextSampleClock:       true,
	ReadingContextSamplePeriodic:    true,
	ReadingContextTransactionBegin:  true,
	ReadingContextTransactionEnd:    true,
	ReadingContextTrigger:           true,
	ReadingContextOther:             true,
}

// Valid 检查读数上下文是否合法
func (c ReadingContext) Valid() bool {
	return readingContexts[c]
}

// ValueFormat 值格式
type ValueFormat string

const (
	ValueFormatRaw        ValueFormat = "Raw"
	ValueFormatSignedData ValueFormat = "SignedData"
)

// Valid 检查值格式是否合法
func (f ValueFormat) Valid() bool {
	return f == ValueFormatRaw || f == ValueFormatSignedData
}

// Measurand 测量值类型
type Measurand string

const (
	MeasurandCurrentExport                Measurand = "Current.Export"
	MeasurandCurrentImport                Measurand = "Current.Import"
	MeasurandCurrentOffered               Measurand = "Current.Offered"
	MeasurandEnergyActiveExportRegister   Measurand = "Energy.Active.Export.Register"
	MeasurandEnergyActiveImportRegister   Measurand = "Energy.Active.Import.Register"
	MeasurandEnergyReactiveExportRegister Measurand = "Energy.Reactive.Export.Register"
	MeasurandEnergyReactiveImportRegister Measurand = "Energy.Reactive.Import.Register"
	MeasurandEnergyActiveExportInterval   Measurand = "Energy.Active.Export.Interval"
	MeasurandEnergyActiveImportInterval   Measurand = "Energy.Active.Import.Interval"
	MeasurandEnergyReactiveExportInterval Measurand = "Energy.Reactive.Export.Interval"
	MeasurandEnergyReactiveImportInterval Measurand = "Energy.Reactive.Import.Interval"
	MeasurandFrequency                    Measurand = "Frequency"
	MeasurandPowerActiveExport            Measurand = "Power.Active.Export"
	MeasurandPowerActiveImport            Measurand = "Power.Active.Import"
	MeasurandPowerFactor                  Measurand = "Power.Factor"
	MeasurandPowerOffered                 Measurand = "Power.Offered"
	MeasurandPowerReactiveExport          Measurand = "Power.Reactive.Export"
	MeasurandPowerReactiveImport          Measurand = "Power.Reactive.Import"
	MeasurandRPM                          Measurand = "RPM"
	MeasurandSoC                          Measurand = "SoC"
	MeasurandTemperature                  Measurand = "Temperature"
	MeasurandVoltage                      Measurand = "Voltage"
)

var measurands = map[Measurand]bool{
	MeasurandCurrentExport:                true,
	MeasurandCurrentImport:                true,
	MeasurandCurrentOffered:               true,
	MeasurandEnergyActiveExportRegister:   true,
	MeasurandEnergyActiveImportRegister:   true,
	MeasurandEnergyReactiveExportRegister: true,
	MeasurandEnergyReactiveImportRegister: true,
	MeasurandEnergyActiveExportInterval:   true,
	MeasurandEnergyActiveImportInterval:   true,
	MeasurandEnergyReactiveExportInterval: true,
	MeasurandEnergyReactiveImportInterval: true,
	MeasurandFrequency:                    true,
	MeasurandPowerActiveExport:            true,
	MeasurandPowerActiveImport:            true,
	MeasurandPowerFactor:                  true,
	MeasurandPowerOffered:                 true,
	MeasurandPowerReactiveExport:          true,
	MeasurandPowerReactiveImport:          true,
	MeasurandRPM:                          true,
	MeasurandSoC:                          true,
	MeasurandTemperature:                  true,
	MeasurandVoltage:                      true,
}

// Valid 检查测量值类型是否合法
func (m Measurand) Valid() bool {
	return measurands[m]
}

// IsEnergyRegister 是否为能量主读数（快照采用的测量类型）
func (m Measurand) IsEnergyRegister() bool {
	return m == MeasurandEnergyActiveImportRegister || m == MeasurandEnergyActiveImportInterval
}

// Phase 相位
type Phase string

const (
	PhaseL1   Phase = "L1"
	PhaseL2   Phase = "L2"
	PhaseL3   Phase = "L3"
	PhaseN    Phase = "N"
	PhaseL1N  Phase = "L1-N"
	PhaseL2N  Phase = "L2-N"
	PhaseL3N  Phase = "L3-N"
	PhaseL1L2 Phase = "L1-L2"
	PhaseL2L3 Phase = "L2-L3"
	PhaseL3L1 Phase = "L3-L1"
)

// Location 采样位置
type Location string

const (
	LocationBody   Location = "Body"
	LocationCable  Location = "Cable"
	LocationEV     Location = "EV"
	LocationInlet  Location = "Inlet"
	LocationOutlet Location = "Outlet"
)

// UnitOfMeasure 测量单位
type UnitOfMeasure string

const (
	UnitOfMeasureWh         UnitOfMeasure = "Wh"
	UnitOfMeasureKWh        UnitOfMeasure = "kWh"
	UnitOfMeasureVarh       UnitOfMeasure = "varh"
	UnitOfMeasureKvarh      UnitOfMeasure = "kvarh"
	UnitOfMeasureW          UnitOfMeasure = "W"
	UnitOfMeasureKW         UnitOfMeasure = "kW"
	UnitOfMeasureVA         UnitOfMeasure = "VA"
	UnitOfMeasureKVA        UnitOfMeasure = "kVA"
	UnitOfMeasureVar        UnitOfMeasure = "var"
	UnitOfMeasureKvar       UnitOfMeasure = "kvar"
	UnitOfMeasureA          UnitOfMeasure = "A"
	UnitOfMeasureV          UnitOfMeasure = "V"
	UnitOfMeasureCelsius    UnitOfMeasure = "Celsius"
	UnitOfMeasureFahrenheit UnitOfMeasure = "Fahrenheit"
	UnitOfMeasureK          UnitOfMeasure = "K"
	UnitOfMeasurePercent    UnitOfMeasure = "Percent"
)

var unitsOfMeasure = map[UnitOfMeasure]bool{
	UnitOfMeasureWh:         true,
	UnitOfMeasureKWh:        true,
	UnitOfMeasureVarh:       true,
	UnitOfMeasureKvarh:      true,
	UnitOfMeasureW:          true,
	UnitOfMeasureKW:         true,
	UnitOfMeasureVA:         true,
	UnitOfMeasureKVA:        true,
	UnitOfMeasureVar:        true,
	UnitOfMeasureKvar:       true,
	UnitOfMeasureA:          true,
	UnitOfMeasureV:          true,
	UnitOfMeasureCelsius:    true,
	UnitOfMeasureFahrenheit: true,
	UnitOfMeasureK:          true,
	UnitOfMeasurePercent:    true,
}

// Valid 检查单位是否合法
func (u UnitOfMeasure) Valid() bool {
	return unitsOfMeasure[u]
}

// DefaultUnitFor 按测量值类型推断默认单位
func DefaultUnitFor(m Measurand) UnitOfMeasure {
	switch m {
	case MeasurandEnergyActiveExportRegister, MeasurandEnergyActiveImportRegister,
		MeasurandEnergyActiveExportInterval, MeasurandEnergyActiveImportInterval:
		return UnitOfMeasureWh
	case MeasurandEnergyReactiveExportRegister, MeasurandEnergyReactiveImportRegister,
		MeasurandEnergyReactiveExportInterval, MeasurandEnergyReactiveImportInterval:
		return UnitOfMeasureVarh
	case MeasurandPowerActiveExport, MeasurandPowerActiveImport, MeasurandPowerOffered:
		return UnitOfMeasureW
	case MeasurandPowerReactiveExport, MeasurandPowerReactiveImport:
		return UnitOfMeasureVar
	case MeasurandCurrentExport, MeasurandCurrentImport, MeasurandCurrentOffered:
		return UnitOfMeasureA
	case MeasurandVoltage:
		return UnitOfMeasureV
	case MeasurandTemperature:
		return UnitOfMeasureCelsius
	case MeasurandSoC:
		return UnitOfMeasurePercent
	default:
		return UnitOfMeasureWh
	}
}
