package serialization

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/charging-platform/central-system/internal/domain/ocpp16"
)

// Frame 解码后的OCPP帧
// CALL: [2, messageId, action, payload]
// CALLRESULT: [3, messageId, payload]
// CALLERROR: [4, messageId, errorCode, errorDescription, errorDetails]
type Frame struct {
	Type             ocpp16.MessageType
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// FrameError 帧级错误
// MessageID 在可恢复时携带原始消息ID，分发器据此回CALLERROR而不是断开连接
type FrameError struct {
	MessageID string
	Code      ocpp16.ErrorCode
	Reason    string
	Cause     error
}

func (e *FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame error: %s (caused by: %v)", e.Reason, e.Cause)
	}
	return fmt.Sprintf("frame error: %s", e.Reason)
}

// Codec OCPP帧编解码器，纯函数，不触及任何注册表
type Codec struct{}

// NewCodec 创建编解码器
func NewCodec() *Codec {
	return &Codec{}
}

// EncodeCall 编码CALL帧
func (c *Codec) EncodeCall(messageID string, action ocpp16.Action, payload interface{}) ([]byte, error) {
	return c.encode([]interface{}{int(ocpp16.Call), messageID, string(action), payload})
}

// EncodeCallResult 编码CALLRESULT帧
func (c *Codec) EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	return c.encode([]interface{}{int(ocpp16.CallResult), messageID, payload})
}

// EncodeCallError 编码CALLERROR帧
func (c *Codec) EncodeCallError(messageID string, errorCode ocpp16.ErrorCode, description string, details map[string]interface{}) ([]byte, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.encode([]interface{}{int(ocpp16.CallError), messageID, string(errorCode), description, details})
}

func (c *Codec) encode(elements []interface{}) ([]byte, error) {
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OCPP frame: %w", err)
	}
	return data, nil
}

// Decode 解码OCPP帧
// 失败时返回*FrameError；只要message[1]能解析为字符串就恢复MessageID
func (c *Codec) Decode(data []byte) (*Frame, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, &FrameError{
			Code:   ocpp16.ErrorCodeFormationViolation,
			Reason: "message is not a JSON array",
			Cause:  err,
		}
	}

	recoveredID := recoverMessageID(elements)

	if len(elements) < 3 || len(elements) > 5 {
		return nil, &FrameError{
			MessageID: recoveredID,
			Code:      ocpp16.ErrorCodeFormationViolation,
			Reason:    fmt.Sprintf("message array must have 3 to 5 elements, got %d", len(elements)),
		}
	}

	var msgType int
	if err := json.Unmarshal(elements[0], &msgType); err != nil {
		return nil, &FrameError{
			MessageID: recoveredID,
			Code:      ocpp16.ErrorCodeFormationViolation,
			Reason:    "message type must be an integer",
			Cause:     err,
		}
	}

	var msgID string
	if err := json.Unmarshal(elements[1], &msgID); err != nil {
		return nil, &FrameError{
			Code:   ocpp16.ErrorCodeFormationViolation,
			Reason: "message ID must be a string",
			Cause:  err,
		}
	}
	if msgID == "" {
		return nil, &FrameError{
			Code:   ocpp16.ErrorCodeFormationViolation,
			Reason: "message ID must not be empty",
		}
	}
	if len(msgID) > ocpp16.MaxMessageIDLength {
		return nil, &FrameError{
			MessageID: msgID,
			Code:      ocpp16.ErrorCodeProtocolError,
			Reason:    fmt.Sprintf("message ID exceeds %d characters", ocpp16.MaxMessageIDLength),
		}
	}

	switch ocpp16.MessageType(msgType) {
	case ocpp16.Call:
		if len(elements) != 4 {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    fmt.Sprintf("CALL must have exactly 4 elements, got %d", len(elements)),
			}
		}
		var action string
		if err := json.Unmarshal(elements[2], &action); err != nil {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    "action must be a string",
				Cause:     err,
			}
		}
		if action == "" || len(action) > ocpp16.MaxActionLength {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    fmt.Sprintf("action must be 1 to %d characters", ocpp16.MaxActionLength),
			}
		}
		return &Frame{
			Type:      ocpp16.Call,
			MessageID: msgID,
			Action:    action,
			Payload:   elements[3],
		}, nil

	case ocpp16.CallResult:
		if len(elements) != 3 {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    fmt.Sprintf("CALLRESULT must have exactly 3 elements, got %d", len(elements)),
			}
		}
		return &Frame{
			Type:      ocpp16.CallResult,
			MessageID: msgID,
			Payload:   elements[2],
		}, nil

	case ocpp16.CallError:
		if len(elements) < 4 {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    fmt.Sprintf("CALLERROR must have 4 or 5 elements, got %d", len(elements)),
			}
		}
		var errorCode string
		if err := json.Unmarshal(elements[2], &errorCode); err != nil {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    "error code must be a string",
				Cause:     err,
			}
		}
		var description string
		if err := json.Unmarshal(elements[3], &description); err != nil {
			return nil, &FrameError{
				MessageID: msgID,
				Code:      ocpp16.ErrorCodeFormationViolation,
				Reason:    "error description must be a string",
				Cause:     err,
			}
		}
		frame := &Frame{
			Type:             ocpp16.CallError,
			MessageID:        msgID,
			ErrorCode:        errorCode,
			ErrorDescription: description,
		}
		if len(elements) == 5 {
			frame.ErrorDetails = elements[4]
		}
		return frame, nil

	default:
		return nil, &FrameError{
			MessageID: msgID,
			Code:      ocpp16.ErrorCodeProtocolError,
			Reason:    fmt.Sprintf("unsupported message type %d", msgType),
		}
	}
}

// recoverMessageID 尽力从原始帧中恢复消息ID
func recoverMessageID(elements []json.RawMessage) string {
	if len(elements) < 2 {
		return ""
	}
	var id string
	if err := json.Unmarshal(elements[1], &id); err != nil {
		return ""
	}
	if len(id) > ocpp16.MaxMessageIDLength {
		return ""
	}
	return id
}

// 各动作对应的载荷类型表
var payloadTypes = map[ocpp16.Action]struct {
	request  reflect.Type
	response reflect.Type
}{
	ocpp16.ActionBootNotification: {
		request:  reflect.TypeOf(ocpp16.BootNotificationRequest{}),
		response: reflect.TypeOf(ocpp16.BootNotificationResponse{}),
	},
	ocpp16.ActionHeartbeat: {
		request:  reflect.TypeOf(ocpp16.HeartbeatRequest{}),
		response: reflect.TypeOf(ocpp16.HeartbeatResponse{}),
	},
	ocpp16.ActionStatusNotification: {
		request:  reflect.TypeOf(ocpp16.StatusNotificationRequest{}),
		response: reflect.TypeOf(ocpp16.StatusNotificationResponse{}),
	},
	ocpp16.ActionAuthorize: {
		request:  reflect.TypeOf(ocpp16.AuthorizeRequest{}),
		response: reflect.TypeOf(ocpp16.AuthorizeResponse{}),
	},
	ocpp16.ActionStartTransaction: {
		request:  reflect.TypeOf(ocpp16.StartTransactionRequest{}),
		response: reflect.TypeOf(ocpp16.StartTransactionResponse{}),
	},
	ocpp16.ActionStopTransaction: {
		request:  reflect.TypeOf(ocpp16.StopTransactionRequest{}),
		response: reflect.TypeOf(ocpp16.StopTransactionResponse{}),
	},
	ocpp16.ActionMeterValues: {
		request:  reflect.TypeOf(ocpp16.MeterValuesRequest{}),
		response: reflect.TypeOf(ocpp16.MeterValuesResponse{}),
	},
	ocpp16.ActionDataTransfer: {
		request:  reflect.TypeOf(ocpp16.DataTransferRequest{}),
		response: reflect.TypeOf(ocpp16.DataTransferResponse{}),
	},
	ocpp16.ActionRemoteStartTransaction: {
		request:  reflect.TypeOf(ocpp16.RemoteStartTransactionRequest{}),
		response: reflect.TypeOf(ocpp16.RemoteStartTransactionResponse{}),
	},
	ocpp16.ActionRemoteStopTransaction: {
		request:  reflect.TypeOf(ocpp16.RemoteStopTransactionRequest{}),
		response: reflect.TypeOf(ocpp16.RemoteStopTransactionResponse{}),
	},
}

// GetPayloadType 根据action返回载荷类型，未知action返回nil
func (c *Codec) GetPayloadType(action ocpp16.Action, isRequest bool) reflect.Type {
	types, exists := payloadTypes[action]
	if !exists {
		return nil
	}
	if isRequest {
		return types.request
	}
	return types.response
}

// CreatePayloadInstance 创建载荷实例指针，未知action返回nil
func (c *Codec) CreatePayloadInstance(action ocpp16.Action, isRequest bool) interface{} {
	payloadType := c.GetPayloadType(action, isRequest)
	if payloadType == nil {
		return nil
	}
	return reflect.New(payloadType).Interface()
}

// KnownAction 检查action是否在支持的载荷类型表中
func (c *Codec) KnownAction(action ocpp16.Action) bool {
	_, exists := payloadTypes[action]
	return exists
}
