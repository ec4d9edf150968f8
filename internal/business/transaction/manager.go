package transaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

var (
	// ErrTransactionNotFound 未知交易ID
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrCounterExhausted 交易ID计数器耗尽，拒绝开启新交易
	ErrCounterExhausted = errors.New("transaction counter exhausted")
)

// MeterSample 交易期间的一条电表采样
type MeterSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Measurand string    `json:"measurand"`
	Unit      string    `json:"unit,omitempty"`
	Context   string    `json:"context,omitempty"`
	Phase     string    `json:"phase,omitempty"`
}

// Transaction 一次充电交易
type Transaction struct {
	ID            int
	ChargePointID string
	ConnectorID   int
	IdTag         string
	MeterStart    int
	MeterStop     *int
	StartTime     time.Time
	StopTime      *time.Time
	Reason        string
	ReservationID *int
	Samples       []MeterSample
}

// Snapshot 交易快照，亦作持久化记录
type Snapshot struct {
	ID              int           `json:"transactionId"`
	ChargePointID   string        `json:"chargePointId"`
	ConnectorID     int           `json:"connectorId"`
	IdTag           string        `json:"idTag"`
	MeterStart      int           `json:"meterStart"`
	MeterStop       *int          `json:"meterStop,omitempty"`
	StartTime       time.Time     `json:"startTime"`
	StopTime        *time.Time    `json:"stopTime,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	ReservationID   *int          `json:"reservationId,omitempty"`
	EnergyUsed      *int          `json:"energyUsed,omitempty"`
	DurationSeconds *int          `json:"durationSeconds,omitempty"`
	Samples         []MeterSample `json:"samples,omitempty"`
	Active          bool          `json:"active"`
}

// StartResult StartTransaction的业务结果
// 拒绝时TransactionID为-1且注册表状态不变
type StartResult struct {
	TransactionID int
	IdTagInfo     ocpp16.IdTagInfo
}

// StopResult StopTransaction的业务结果
type StopResult struct {
	ChargePointID   string
	ConnectorID     int
	StartIdTag      string
	EnergyUsed      int
	DurationSeconds int
	IdTagInfo       *ocpp16.IdTagInfo
}

// StopOptions StopTransaction的可选字段
type StopOptions struct {
	IdTag  string
	Reason string
}

// Authorizer 标签校验接口，由授权注册表实现
type Authorizer interface {
	Validate(idTag string) ocpp16.IdTagInfo
}

// Store 交易持久化插件
// 不配置时系统无状态，重启后计数器从1开始
type Store interface {
	// LoadNextID 加载下一个交易ID，无记录时返回0
	LoadNextID(ctx context.Context) (int, error)
	// SaveNextID 持久化下一个交易ID
	SaveNextID(ctx context.Context, next int) error
	// SaveCompleted 持久化一条已完成交易
	SaveCompleted(ctx context.Context, record Snapshot) error
}

type connectorKey struct {
	chargePointID string
	connectorID   int
}

// Manager 交易注册表
// 交易ID在进程生命周期内严格递增；计数器溢出时拒绝开启新交易
type Manager struct {
	transactions      map[int]*Transaction
	activeByConnector map[connectorKey]*Transaction
	activeByTag       map[string]*Transaction
	nextID            int64
	mutex             sync.RWMutex

	authorizer Authorizer
	store      Store
	clock      clock.Clock
	logger     *logger.Logger
}

// NewManager 创建交易注册表
// store可为nil；非nil时从store重新播种计数器
func NewManager(authorizer Authorizer, store Store, clk clock.Clock, log *logger.Logger) *Manager {
	m := &Manager{
		transactions:      make(map[int]*Transaction),
		activeByConnector: make(map[connectorKey]*Transaction),
		activeByTag:       make(map[string]*Transaction),
		nextID:            1,
		authorizer:        authorizer,
		store:             store,
		clock:             clk,
		logger:            log,
	}
	if store != nil {
		if next, err := store.LoadNextID(context.Background()); err != nil {
			log.ErrorWithErr(err, "Failed to load transaction counter, starting from 1")
		} else if next > 1 {
			m.nextID = int64(next)
			log.Infof("Transaction counter re-seeded at %d", next)
		}
	}
	return m
}

// allocateID 分配下一个交易ID
func (m *Manager) allocateID() (int, error) {
	// 调用方必须持有m.mutex
	if m.nextID > math.MaxInt32 {
		return 0, ErrCounterExhausted
	}
	id := int(m.nextID)
	m.nextID++
	return id, nil
}

// Start 开启一次交易
// 标签非Accepted或连接器/标签已有在途交易时返回transactionId=-1，注册表不变；
// 计数器耗尽返回ErrCounterExhausted
func (m *Manager) Start(chargePointID string, connectorID int, idTag string, meterStart int, timestamp *time.Time, reservationID *int) (StartResult, error) {
	info := m.authorizer.Validate(idTag)
	if info.Status != ocpp16.AuthorizationStatusAccepted {
		m.logger.Infof("StartTransaction rejected for %s on %s: %s", idTag, chargePointID, info.Status)
		return StartResult{TransactionID: -1, IdTagInfo: info}, nil
	}

	startTime := m.clock.Now()
	if timestamp != nil {
		startTime = *timestamp
	}

	m.mutex.Lock()
	key := connectorKey{chargePointID: chargePointID, connectorID: connectorID}
	if _, busy := m.activeByConnector[key]; busy {
		m.mutex.Unlock()
		m.logger.Warnf("StartTransaction refused: connector %d on %s already has a transaction", connectorID, chargePointID)
		return StartResult{TransactionID: -1, IdTagInfo: ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusConcurrentTx}}, nil
	}
	if _, busy := m.activeByTag[idTag]; busy {
		m.mutex.Unlock()
		m.logger.Warnf("StartTransaction refused: tag %s already has a transaction in progress", idTag)
		return StartResult{TransactionID: -1, IdTagInfo: ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusConcurrentTx}}, nil
	}

	id, err := m.allocateID()
	if err != nil {
		m.mutex.Unlock()
		return StartResult{}, err
	}
	txn := &Transaction{
		ID:            id,
		ChargePointID: chargePointID,
		ConnectorID:   connectorID,
		IdTag:         idTag,
		MeterStart:    meterStart,
		StartTime:     startTime,
		ReservationID: reservationID,
	}
	m.transactions[id] = txn
	m.activeByConnector[key] = txn
	m.activeByTag[idTag] = txn
	next := int(m.nextID)
	m.mutex.Unlock()

	m.persistCounter(next)
	metrics.ActiveTransactions.Inc()
	m.logger.Infof("Transaction %d started: %s connector %d, tag %s, meterStart %d", id, chargePointID, connectorID, idTag, meterStart)
	return StartResult{TransactionID: id, IdTagInfo: info}, nil
}

// Stop 结束一次交易
// 未知或已结束的ID返回ErrTransactionNotFound；
// meterStop小于meterStart记录告警但交易照常关闭
func (m *Manager) Stop(transactionID int, meterStop int, timestamp *time.Time, opts StopOptions) (StopResult, error) {
	stopTime := m.clock.Now()
	if timestamp != nil {
		stopTime = *timestamp
	}

	m.mutex.Lock()
	txn, exists := m.transactions[transactionID]
	if !exists || txn.StopTime != nil {
		m.mutex.Unlock()
		return StopResult{}, fmt.Errorf("transaction %d: %w", transactionID, ErrTransactionNotFound)
	}

	var info *ocpp16.IdTagInfo
	if opts.IdTag != "" && opts.IdTag != txn.IdTag {
		// 结束标签与开启标签不同：校验但不阻止结束
		validated := m.authorizer.Validate(opts.IdTag)
		info = &validated
		if validated.Status != ocpp16.AuthorizationStatusAccepted {
			m.logger.Warnf("Transaction %d stopped with non-accepted tag %s (%s)", transactionID, opts.IdTag, validated.Status)
		}
	}

	if meterStop < txn.MeterStart {
		m.logger.Warnf("Transaction %d meterStop %d below meterStart %d", transactionID, meterStop, txn.MeterStart)
	}

	stop := meterStop
	txn.MeterStop = &stop
	txn.StopTime = &stopTime
	txn.Reason = opts.Reason
	delete(m.activeByConnector, connectorKey{chargePointID: txn.ChargePointID, connectorID: txn.ConnectorID})
	delete(m.activeByTag, txn.IdTag)
	record := snapshotOf(txn)
	m.mutex.Unlock()

	m.persistCompleted(record)
	metrics.ActiveTransactions.Dec()

	energyUsed := meterStop - record.MeterStart
	duration := int(stopTime.Sub(record.StartTime).Seconds())
	m.logger.Infof("Transaction %d stopped: energyUsed %d, duration %ds, reason %q", transactionID, energyUsed, duration, opts.Reason)
	return StopResult{
		ChargePointID:   record.ChargePointID,
		ConnectorID:     record.ConnectorID,
		StartIdTag:      record.IdTag,
		EnergyUsed:      energyUsed,
		DurationSeconds: duration,
		IdTagInfo:       info,
	}, nil
}

// AppendMeter 追加电表采样，保持到达顺序
// 未知或已结束的交易返回false
func (m *Manager) AppendMeter(transactionID int, samples []MeterSample) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	txn, exists := m.transactions[transactionID]
	if !exists || txn.StopTime != nil {
		return false
	}
	txn.Samples = append(txn.Samples, samples...)
	return true
}

// GetActiveByConnector 查询连接器上的在途交易
func (m *Manager) GetActiveByConnector(chargePointID string, connectorID int) (Snapshot, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	txn, exists := m.activeByConnector[connectorKey{chargePointID: chargePointID, connectorID: connectorID}]
	if !exists {
		return Snapshot{}, false
	}
	return snapshotOf(txn), true
}

// Get 查询交易快照
func (m *Manager) Get(transactionID int) (Snapshot, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	txn, exists := m.transactions[transactionID]
	if !exists {
		return Snapshot{}, false
	}
	return snapshotOf(txn), true
}

// List 返回所有交易快照，按ID排序
func (m *Manager) List() []Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]Snapshot, 0, len(m.transactions))
	for _, txn := range m.transactions {
		result = append(result, snapshotOf(txn))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ByStation 返回某站点的所有交易快照，按ID排序
func (m *Manager) ByStation(chargePointID string) []Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]Snapshot, 0)
	for _, txn := range m.transactions {
		if txn.ChargePointID == chargePointID {
			result = append(result, snapshotOf(txn))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ActiveCount 在途交易数量
func (m *Manager) ActiveCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.activeByConnector)
}

func (m *Manager) persistCounter(next int) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveNextID(context.Background(), next); err != nil {
		m.logger.ErrorWithErr(err, "Failed to persist transaction counter")
	}
}

func (m *Manager) persistCompleted(record Snapshot) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCompleted(context.Background(), record); err != nil {
		m.logger.ErrorWithErr(err, "Failed to persist completed transaction")
	}
}

// snapshotOf 深拷贝交易，调用方必须持有m.mutex
func snapshotOf(txn *Transaction) Snapshot {
	snap := Snapshot{
		ID:            txn.ID,
		ChargePointID: txn.ChargePointID,
		ConnectorID:   txn.ConnectorID,
		IdTag:         txn.IdTag,
		MeterStart:    txn.MeterStart,
		StartTime:     txn.StartTime,
		Reason:        txn.Reason,
		Active:        txn.StopTime == nil,
	}
	if txn.MeterStop != nil {
		stop := *txn.MeterStop
		snap.MeterStop = &stop
		energy := stop - txn.MeterStart
		snap.EnergyUsed = &energy
	}
	if txn.StopTime != nil {
		stopTime := *txn.StopTime
		snap.StopTime = &stopTime
		duration := int(stopTime.Sub(txn.StartTime).Seconds())
		snap.DurationSeconds = &duration
	}
	if txn.ReservationID != nil {
		reservation := *txn.ReservationID
		snap.ReservationID = &reservation
	}
	if len(txn.Samples) > 0 {
		snap.Samples = make([]MeterSample, len(txn.Samples))
		copy(snap.Samples, txn.Samples)
	}
	return snap
}
