package ocpp16

import "fmt"

// ErrorCode CALLERROR错误代码，OCPP 1.6固定集合
type ErrorCode string

const (
	ErrorCodeFormationViolation            ErrorCode = "FormationViolation"
	ErrorCodePropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrorCodeTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	ErrorCodeOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrorCodeProtocolError                 ErrorCode = "ProtocolError"
	ErrorCodeNotImplemented                ErrorCode = "NotImplemented"
	ErrorCodeNotSupported                  ErrorCode = "NotSupported"
	ErrorCodeInternalError                 ErrorCode = "InternalError"
	ErrorCodeSecurityError                 ErrorCode = "SecurityError"
	ErrorCodeGenericError                  ErrorCode = "GenericError"
)

var errorCodes = map[ErrorCode]bool{
	ErrorCodeFormationViolation:            true,
	ErrorCodePropertyConstraintViolation:   true,
	ErrorCodeTypeConstraintViolation:       true,
	ErrorCodeOccurrenceConstraintViolation: true,
	ErrorCodeProtocolError:                 true,
	ErrorCodeNotImplemented:                true,
	ErrorCodeNotSupported:                  true,
	ErrorCodeInternalError:                 true,
	ErrorCodeSecurityError:                 true,
	ErrorCodeGenericError:                  true,
}

// Valid 检查错误代码是否属于固定集合
func (c ErrorCode) Valid() bool {
	return errorCodes[c]
}

// OCPPError 携带CALLERROR语义的协议错误
// 分发器捕获后转换为CALLERROR帧，连接继续服务
type OCPPError struct {
	Code        ErrorCode
	Description string
	Details     map[string]interface{}
}

// NewOCPPError 创建协议错误
func NewOCPPError(code ErrorCode, description string) *OCPPError {
	return &OCPPError{Code: code, Description: description}
}

// WithDetails 附加错误明细
func (e *OCPPError) WithDetails(details map[string]interface{}) *OCPPError {
	e.Details = details
	return e
}

func (e *OCPPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
