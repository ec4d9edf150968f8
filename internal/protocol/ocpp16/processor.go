package ocpp16

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/business/authorization"
	"github.com/charging-platform/central-system/internal/business/chargepoint"
	"github.com/charging-platform/central-system/internal/business/transaction"
	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/domain/serialization"
	"github.com/charging-platform/central-system/internal/domain/validation"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// Sender 向指定充电桩发送一帧数据，由连接管理器实现
type Sender interface {
	Send(chargePointID string, data []byte) error
}

// DataTransferHandler 厂商自定义DataTransfer处理函数
type DataTransferHandler func(chargePointID string, req *ocpp16.DataTransferRequest) *ocpp16.DataTransferResponse

// Dispatcher OCPP 1.6消息分发器
// 入站CALL恰好产生一个CALLRESULT或CALLERROR；处理失败从不断开连接，
// 除帧级错误外一律转换为CALLERROR继续服务
type Dispatcher struct {
	codec     *serialization.Codec
	validator *validation.Validator

	auth         *authorization.Registry
	stations     *chargepoint.Manager
	transactions *transaction.Manager
	tracker      *Tracker

	heartbeatInterval time.Duration
	clock             clock.Clock
	logger            *logger.Logger

	sender      Sender
	senderMutex sync.RWMutex

	vendorHandlers map[string]DataTransferHandler
	vendorMutex    sync.RWMutex
}

// NewDispatcher 创建消息分发器
func NewDispatcher(auth *authorization.Registry, stations *chargepoint.Manager,
	transactions *transaction.Manager, tracker *Tracker,
	heartbeatInterval time.Duration, clk clock.Clock, log *logger.Logger) *Dispatcher {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 300 * time.Second
	}
	return &Dispatcher{
		codec:             serialization.NewCodec(),
		validator:         validation.NewValidator(),
		auth:              auth,
		stations:          stations,
		transactions:      transactions,
		tracker:           tracker,
		heartbeatInterval: heartbeatInterval,
		clock:             clk,
		logger:            log,
		vendorHandlers:    make(map[string]DataTransferHandler),
	}
}

// SetSender 注入出站发送器，连接管理器启动后调用
func (d *Dispatcher) SetSender(sender Sender) {
	d.senderMutex.Lock()
	defer d.senderMutex.Unlock()
	d.sender = sender
}

// RegisterVendorHandler 注册厂商DataTransfer扩展
func (d *Dispatcher) RegisterVendorHandler(vendorID string, handler DataTransferHandler) {
	d.vendorMutex.Lock()
	defer d.vendorMutex.Unlock()
	d.vendorHandlers[vendorID] = handler
}

// HandleCall 处理入站CALL，返回已编码的响应帧
func (d *Dispatcher) HandleCall(chargePointID string, frame *serialization.Frame) ([]byte, error) {
	start := time.Now()
	metrics.MessagesReceived.WithLabelValues(frame.Action).Inc()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(frame.Action).Observe(time.Since(start).Seconds())
	}()

	payload, ocppErr := d.process(chargePointID, frame)
	if ocppErr != nil {
		metrics.CallErrorsSent.WithLabelValues(string(ocppErr.Code)).Inc()
		d.logger.Warnf("CALLERROR to %s: action=%s code=%s description=%s",
			chargePointID, frame.Action, ocppErr.Code, ocppErr.Description)
		return d.codec.EncodeCallError(frame.MessageID, ocppErr.Code, ocppErr.Description, ocppErr.Details)
	}
	return d.codec.EncodeCallResult(frame.MessageID, payload)
}

// HandleCallResult 将入站CALLRESULT投递给等待者
func (d *Dispatcher) HandleCallResult(chargePointID string, frame *serialization.Frame) {
	if !d.tracker.Resolve(frame.MessageID, frame.Payload) {
		d.logger.Warnf("CALLRESULT with unknown message ID %s from %s", frame.MessageID, chargePointID)
	}
}

// HandleCallError 将入站CALLERROR投递给等待者
func (d *Dispatcher) HandleCallError(chargePointID string, frame *serialization.Frame) {
	if !d.tracker.ResolveError(frame.MessageID, frame.ErrorCode, frame.ErrorDescription) {
		d.logger.Warnf("CALLERROR with unknown message ID %s from %s", frame.MessageID, chargePointID)
	}
}

// StationDisconnected 站点断连，取消其全部未决请求
func (d *Dispatcher) StationDisconnected(chargePointID string) {
	d.tracker.CancelStation(chargePointID)
}

// process 校验并分发CALL，处理器panic转换为InternalError
func (d *Dispatcher) process(chargePointID string, frame *serialization.Frame) (payload interface{}, ocppErr *ocpp16.OCPPError) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Handler panic on %s from %s: %v", frame.Action, chargePointID, r)
			payload = nil
			ocppErr = ocpp16.NewOCPPError(ocpp16.ErrorCodeInternalError, "internal error")
		}
	}()

	action := ocpp16.Action(frame.Action)
	if !d.codec.KnownAction(action) {
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeNotImplemented,
			fmt.Sprintf("action '%s' is not implemented", frame.Action))
	}
	if action == ocpp16.ActionRemoteStartTransaction || action == ocpp16.ActionRemoteStopTransaction {
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeNotSupported,
			fmt.Sprintf("action '%s' is initiated by the central system", frame.Action))
	}
	// 未注册站点只允许BootNotification
	if action != ocpp16.ActionBootNotification && !d.stations.IsRegistered(chargePointID) {
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeSecurityError,
			"charge point has not completed BootNotification")
	}

	instance := d.codec.CreatePayloadInstance(action, true)
	if err := d.validator.UnmarshalStrict(frame.Payload, instance); err != nil {
		return nil, err
	}
	if err := d.validator.ValidateStruct(instance); err != nil {
		return nil, err
	}

	switch action {
	case ocpp16.ActionBootNotification:
		return d.handleBootNotification(chargePointID, instance.(*ocpp16.BootNotificationRequest))
	case ocpp16.ActionHeartbeat:
		return d.handleHeartbeat(chargePointID)
	case ocpp16.ActionStatusNotification:
		return d.handleStatusNotification(chargePointID, instance.(*ocpp16.StatusNotificationRequest))
	case ocpp16.ActionAuthorize:
		return d.handleAuthorize(chargePointID, instance.(*ocpp16.AuthorizeRequest))
	case ocpp16.ActionStartTransaction:
		return d.handleStartTransaction(chargePointID, instance.(*ocpp16.StartTransactionRequest))
	case ocpp16.ActionStopTransaction:
		return d.handleStopTransaction(chargePointID, instance.(*ocpp16.StopTransactionRequest))
	case ocpp16.ActionMeterValues:
		return d.handleMeterValues(chargePointID, instance.(*ocpp16.MeterValuesRequest))
	case ocpp16.ActionDataTransfer:
		return d.handleDataTransfer(chargePointID, instance.(*ocpp16.DataTransferRequest))
	default:
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeNotImplemented,
			fmt.Sprintf("action '%s' is not implemented", frame.Action))
	}
}

func (d *Dispatcher) handleBootNotification(chargePointID string, req *ocpp16.BootNotificationRequest) (interface{}, *ocpp16.OCPPError) {
	d.logger.Infof("BootNotification from %s: %s %s", chargePointID, req.ChargePointVendor, req.ChargePointModel)
	d.stations.HandleBootNotification(chargePointID, req)

	return &ocpp16.BootNotificationResponse{
		Status:      ocpp16.RegistrationStatusAccepted,
		CurrentTime: ocpp16.NewDateTime(d.clock.Now()),
		Interval:    int(d.heartbeatInterval / time.Second),
	}, nil
}

func (d *Dispatcher) handleHeartbeat(chargePointID string) (interface{}, *ocpp16.OCPPError) {
	d.stations.HandleHeartbeat(chargePointID)
	return &ocpp16.HeartbeatResponse{CurrentTime: ocpp16.NewDateTime(d.clock.Now())}, nil
}

func (d *Dispatcher) handleStatusNotification(chargePointID string, req *ocpp16.StatusNotificationRequest) (interface{}, *ocpp16.OCPPError) {
	d.stations.HandleStatusNotification(chargePointID, req)
	return &ocpp16.StatusNotificationResponse{}, nil
}

func (d *Dispatcher) handleAuthorize(chargePointID string, req *ocpp16.AuthorizeRequest) (interface{}, *ocpp16.OCPPError) {
	info := d.auth.StartSession(chargePointID, req.IdTag)
	d.logger.Infof("Authorize from %s: idTag=%s status=%s", chargePointID, req.IdTag, info.Status)
	return &ocpp16.AuthorizeResponse{IdTagInfo: info}, nil
}

func (d *Dispatcher) handleStartTransaction(chargePointID string, req *ocpp16.StartTransactionRequest) (interface{}, *ocpp16.OCPPError) {
	connectorID := *req.ConnectorId
	timestamp := req.Timestamp.Time

	result, err := d.transactions.Start(chargePointID, connectorID, req.IdTag, *req.MeterStart, &timestamp, req.ReservationId)
	if err != nil {
		if errors.Is(err, transaction.ErrCounterExhausted) {
			return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeInternalError, "transaction identifiers exhausted")
		}
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeInternalError, "failed to start transaction")
	}

	if result.TransactionID > 0 {
		txnID := result.TransactionID
		d.stations.SetConnectorTxnBinding(chargePointID, connectorID, &txnID, req.IdTag)
		d.stations.SetConnectorStatus(chargePointID, connectorID, ocpp16.ChargePointStatusCharging)
		d.stations.SetStatus(chargePointID, ocpp16.ChargePointStatusCharging)
	}

	return &ocpp16.StartTransactionResponse{
		IdTagInfo:     result.IdTagInfo,
		TransactionId: result.TransactionID,
	}, nil
}

func (d *Dispatcher) handleStopTransaction(chargePointID string, req *ocpp16.StopTransactionRequest) (interface{}, *ocpp16.OCPPError) {
	transactionID := *req.TransactionId

	// 随停止请求附带的交易数据在关单前并入采样序列
	if len(req.TransactionData) > 0 {
		d.transactions.AppendMeter(transactionID, normalizeMeterValues(req.TransactionData))
	}

	opts := transaction.StopOptions{}
	if req.IdTag != nil {
		opts.IdTag = *req.IdTag
	}
	if req.Reason != nil {
		opts.Reason = string(*req.Reason)
	}
	timestamp := req.Timestamp.Time

	result, err := d.transactions.Stop(transactionID, *req.MeterStop, &timestamp, opts)
	if err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			// 未知交易ID按策略回Invalid，不产生CALLERROR
			d.logger.Warnf("StopTransaction from %s references unknown transaction %d", chargePointID, transactionID)
			return &ocpp16.StopTransactionResponse{
				IdTagInfo: &ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusInvalid},
			}, nil
		}
		return nil, ocpp16.NewOCPPError(ocpp16.ErrorCodeInternalError, "failed to stop transaction")
	}

	d.stations.SetConnectorTxnBinding(chargePointID, result.ConnectorID, nil, "")
	d.stations.SetConnectorStatus(chargePointID, result.ConnectorID, ocpp16.ChargePointStatusAvailable)
	if !d.hasActiveTransactions(chargePointID) {
		d.stations.SetStatus(chargePointID, ocpp16.ChargePointStatusAvailable)
	}
	d.auth.EndSession(chargePointID, result.StartIdTag)

	return &ocpp16.StopTransactionResponse{IdTagInfo: result.IdTagInfo}, nil
}

func (d *Dispatcher) handleMeterValues(chargePointID string, req *ocpp16.MeterValuesRequest) (interface{}, *ocpp16.OCPPError) {
	connectorID := *req.ConnectorId
	samples := normalizeMeterValues(req.MeterValue)

	if req.TransactionId != nil {
		if !d.transactions.AppendMeter(*req.TransactionId, samples) {
			d.logger.Warnf("MeterValues from %s references unknown transaction %d", chargePointID, *req.TransactionId)
		}
	}

	snapshot, readings := splitMeterSamples(samples)
	if snapshot != nil || len(readings) > 0 {
		d.stations.UpdateMeter(chargePointID, connectorID, snapshot, readings)
	}
	return &ocpp16.MeterValuesResponse{}, nil
}

func (d *Dispatcher) handleDataTransfer(chargePointID string, req *ocpp16.DataTransferRequest) (interface{}, *ocpp16.OCPPError) {
	d.vendorMutex.RLock()
	handler := d.vendorHandlers[req.VendorId]
	d.vendorMutex.RUnlock()

	if handler == nil {
		return &ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusUnknownVendorId}, nil
	}
	return handler(chargePointID, req), nil
}

// hasActiveTransactions 站点上是否还有进行中的交易
func (d *Dispatcher) hasActiveTransactions(chargePointID string) bool {
	for _, txn := range d.transactions.ByStation(chargePointID) {
		if txn.Active {
			return true
		}
	}
	return false
}

// RemoteStart 向站点下发RemoteStartTransaction并等待应答
func (d *Dispatcher) RemoteStart(ctx context.Context, chargePointID string, connectorID *int, idTag string) (ocpp16.RemoteStartStopStatus, error) {
	req := &ocpp16.RemoteStartTransactionRequest{ConnectorId: connectorID, IdTag: idTag}
	var resp ocpp16.RemoteStartTransactionResponse
	if err := d.sendCall(ctx, chargePointID, ocpp16.ActionRemoteStartTransaction, req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// RemoteStop 向站点下发RemoteStopTransaction并等待应答
// Accepted只表示站点接受了命令，实际关单由站点自己的StopTransaction完成
func (d *Dispatcher) RemoteStop(ctx context.Context, chargePointID string, transactionID int) (ocpp16.RemoteStartStopStatus, error) {
	req := &ocpp16.RemoteStopTransactionRequest{TransactionId: transactionID}
	var resp ocpp16.RemoteStopTransactionResponse
	if err := d.sendCall(ctx, chargePointID, ocpp16.ActionRemoteStopTransaction, req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// sendCall 编码并发送一个服务端CALL，阻塞等待结果
func (d *Dispatcher) sendCall(ctx context.Context, chargePointID string, action ocpp16.Action, payload interface{}, response interface{}) error {
	d.senderMutex.RLock()
	sender := d.sender
	d.senderMutex.RUnlock()
	if sender == nil {
		return errors.New("no frame sender configured")
	}

	messageID := d.tracker.NextMessageID()
	data, err := d.codec.EncodeCall(messageID, action, payload)
	if err != nil {
		return err
	}

	waiter := d.tracker.Register(messageID, action, chargePointID)
	if err := sender.Send(chargePointID, data); err != nil {
		d.tracker.Cancel(messageID)
		return fmt.Errorf("failed to send %s to %s: %w", action, chargePointID, err)
	}

	select {
	case outcome := <-waiter:
		if outcome.Err != nil {
			return outcome.Err
		}
		if outcome.ErrorCode != "" {
			return fmt.Errorf("charge point rejected %s: %s (%s)", action, outcome.ErrorCode, outcome.ErrorDescription)
		}
		if err := json.Unmarshal(outcome.Payload, response); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", action, err)
		}
		return nil
	case <-ctx.Done():
		d.tracker.Cancel(messageID)
		return ctx.Err()
	}
}

// normalizeMeterValues 展开采样值并补齐默认字段
// context默认Sample.Periodic，measurand默认Energy.Active.Import.Register，
// unit缺失时按measurand推断
func normalizeMeterValues(values []ocpp16.MeterValue) []transaction.MeterSample {
	var samples []transaction.MeterSample
	for _, value := range values {
		for _, sampled := range value.SampledValue {
			parsed, err := strconv.ParseFloat(sampled.Value, 64)
			if err != nil {
				continue
			}

			measurand := ocpp16.MeasurandEnergyActiveImportRegister
			if sampled.Measurand != nil {
				measurand = *sampled.Measurand
			}
			unit := ocpp16.DefaultUnitFor(measurand)
			if sampled.Unit != nil {
				unit = *sampled.Unit
			}
			readingContext := ocpp16.ReadingContextSamplePeriodic
			if sampled.Context != nil {
				readingContext = *sampled.Context
			}

			sample := transaction.MeterSample{
				Timestamp: value.Timestamp.Time,
				Value:     parsed,
				Measurand: string(measurand),
				Unit:      string(unit),
				Context:   string(readingContext),
			}
			if sampled.Phase != nil {
				sample.Phase = string(*sampled.Phase)
			}
			samples = append(samples, sample)
		}
	}
	return samples
}

// splitMeterSamples 拆出最新的主电能读数作为快照，其余作为附加读数
func splitMeterSamples(samples []transaction.MeterSample) (*chargepoint.MeterSnapshot, []chargepoint.Reading) {
	var snapshot *chargepoint.MeterSnapshot
	var readings []chargepoint.Reading

	for _, sample := range samples {
		if ocpp16.Measurand(sample.Measurand).IsEnergyRegister() {
			if snapshot == nil || !sample.Timestamp.Before(snapshot.Timestamp) {
				snapshot = &chargepoint.MeterSnapshot{
					Value:     sample.Value,
					Unit:      sample.Unit,
					Timestamp: sample.Timestamp,
				}
			}
			continue
		}
		readings = append(readings, chargepoint.Reading{
			Measurand: sample.Measurand,
			Value:     sample.Value,
			Unit:      sample.Unit,
			Phase:     sample.Phase,
			Timestamp: sample.Timestamp,
		})
	}
	return snapshot, readings
}
