package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/charging-platform/central-system/internal/domain/ocpp16"
)

// Validator OCPP载荷验证器
// 纯验证逻辑，不触及任何注册表；失败时返回带错误码分类的*ocpp16.OCPPError
type Validator struct {
	validate *validator.Validate
}

// NewValidator 创建新的验证器
func NewValidator() *Validator {
	validate := validator.New()
	// DateTime内嵌time.Time，validator对这类结构体的required标签不生效
	// 映射为底层time.Time，零值时间返回nil以触发required
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		dt, ok := field.Interface().(ocpp16.DateTime)
		if !ok || dt.IsZero() {
			return nil
		}
		return dt.Time
	}, ocpp16.DateTime{})
	registerCustomValidations(validate)
	return &Validator{validate: validate}
}

// UnmarshalStrict 严格解码JSON载荷，拒绝未知字段
// 错误分类: 语法错误→FormationViolation, 未知字段→PropertyConstraintViolation,
// 类型不匹配→TypeConstraintViolation
func (v *Validator) UnmarshalStrict(data []byte, target interface{}) *ocpp16.OCPPError {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(target)
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ocpp16.NewOCPPError(ocpp16.ErrorCodeFormationViolation, "payload is not valid JSON")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return ocpp16.NewOCPPError(ocpp16.ErrorCodeTypeConstraintViolation,
				fmt.Sprintf("field '%s' has wrong JSON type", typeErr.Field)).
				WithDetails(map[string]interface{}{"field": typeErr.Field})
		}
		// Field为空有两种来源：顶层载荷不是对象（目标类型是结构体），
		// 或字段自定义UnmarshalJSON包装的类型错误（目标类型是字段的底层类型）
		if typeErr.Type != nil && typeErr.Type.Kind() == reflect.Struct {
			return ocpp16.NewOCPPError(ocpp16.ErrorCodeFormationViolation, "payload must be a JSON object")
		}
		return ocpp16.NewOCPPError(ocpp16.ErrorCodeTypeConstraintViolation, err.Error())
	}

	if field, ok := unknownFieldName(err); ok {
		return ocpp16.NewOCPPError(ocpp16.ErrorCodePropertyConstraintViolation,
			fmt.Sprintf("unknown field '%s'", field)).
			WithDetails(map[string]interface{}{"field": field})
	}

	// 其余为字段级解码失败（如时间格式），载荷本身是合法JSON对象
	return ocpp16.NewOCPPError(ocpp16.ErrorCodeTypeConstraintViolation, err.Error())
}

// ValidateStruct 验证结构体约束
// 标签分类: required→FormationViolation, 枚举→PropertyConstraintViolation,
// 长度与数值下限→TypeConstraintViolation, 切片元素个数→OccurrenceConstraintViolation
func (v *Validator) ValidateStruct(s interface{}) *ocpp16.OCPPError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validatorErrors validator.ValidationErrors
	if !errors.As(err, &validatorErrors) || len(validatorErrors) == 0 {
		return ocpp16.NewOCPPError(ocpp16.ErrorCodeInternalError, "payload validation failed")
	}

	fe := validatorErrors[0]
	return ocpp16.NewOCPPError(classifyTag(fe), describeFieldError(fe)).
		WithDetails(map[string]interface{}{
			"field": fe.Field(),
			"tag":   fe.Tag(),
		})
}

// classifyTag 将validator标签映射到OCPP错误码
func classifyTag(fe validator.FieldError) ocpp16.ErrorCode {
	switch fe.Tag() {
	case "required":
		return ocpp16.ErrorCodeFormationViolation
	case "ocpp_status", "ocpp_error_code", "ocpp_auth_status", "ocpp_remote_status",
		"ocpp_reason", "ocpp_context", "ocpp_format", "ocpp_measurand", "ocpp_unit":
		return ocpp16.ErrorCodePropertyConstraintViolation
	case "min", "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return ocpp16.ErrorCodeOccurrenceConstraintViolation
		}
		return ocpp16.ErrorCodeTypeConstraintViolation
	case "gte", "lte", "gt", "lt":
		return ocpp16.ErrorCodeTypeConstraintViolation
	case "ocpp_meter_value":
		return ocpp16.ErrorCodeTypeConstraintViolation
	default:
		return ocpp16.ErrorCodePropertyConstraintViolation
	}
}

// describeFieldError 生成可读的错误描述
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("field '%s' must contain at least %s elements", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("field '%s' must contain at most %s elements", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("field '%s' must not exceed %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("field '%s' must be greater than or equal to %s", fe.Field(), fe.Param())
	case "ocpp_meter_value":
		return fmt.Sprintf("field '%s' must be a numeric meter value", fe.Field())
	case "ocpp_status", "ocpp_error_code", "ocpp_auth_status", "ocpp_remote_status",
		"ocpp_reason", "ocpp_context", "ocpp_format", "ocpp_measurand", "ocpp_unit":
		return fmt.Sprintf("field '%s' has value '%v' outside the allowed set", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("field '%s' failed validation for tag '%s'", fe.Field(), fe.Tag())
	}
}

// unknownFieldName 从严格解码错误中提取未知字段名
func unknownFieldName(err error) (string, bool) {
	msg := err.Error()
	marker := "unknown field "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	field := strings.Trim(msg[idx+len(marker):], `"`)
	return field, true
}

// registerCustomValidations 注册OCPP枚举验证规则
func registerCustomValidations(validate *validator.Validate) {
	validate.RegisterValidation("ocpp_status", func(fl validator.FieldLevel) bool {
		return ocpp16.ChargePointStatus(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_error_code", func(fl validator.FieldLevel) bool {
		return ocpp16.ChargePointErrorCode(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_auth_status", func(fl validator.FieldLevel) bool {
		return ocpp16.AuthorizationStatus(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_remote_status", func(fl validator.FieldLevel) bool {
		return ocpp16.RemoteStartStopStatus(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_reason", func(fl validator.FieldLevel) bool {
		return ocpp16.Reason(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_context", func(fl validator.FieldLevel) bool {
		return ocpp16.ReadingContext(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_format", func(fl validator.FieldLevel) bool {
		return ocpp16.ValueFormat(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_measurand", func(fl validator.FieldLevel) bool {
		return ocpp16.Measurand(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_unit", func(fl validator.FieldLevel) bool {
		return ocpp16.UnitOfMeasure(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("ocpp_meter_value", validateMeterValue)
}

// validateMeterValue 电表读数必须可解析为数字
func validateMeterValue(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return false
	}
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}
