package protocol

// OCPP-J子协议常量
const (
	// SubprotocolOCPP16 标准OCPP 1.6J子协议
	SubprotocolOCPP16 = "ocpp1.6"
	// SubprotocolOCPP161 1.6.1勘误版，按1.6处理
	SubprotocolOCPP161 = "ocpp1.6.1"
)

// 按优先级排列的受支持子协议
var supportedSubprotocols = []string{
	SubprotocolOCPP16,
	SubprotocolOCPP161,
}

// SupportedSubprotocols 返回按优先级排列的子协议列表副本
func SupportedSubprotocols() []string {
	result := make([]string, len(supportedSubprotocols))
	copy(result, supportedSubprotocols)
	return result
}

// IsSupported 检查子协议是否受支持
func IsSupported(subprotocol string) bool {
	for _, supported := range supportedSubprotocols {
		if subprotocol == supported {
			return true
		}
	}
	return false
}

// Negotiate 从客户端提供的子协议中按服务端优先级选择
// 没有交集时返回空字符串，调用方必须拒绝升级
func Negotiate(offered []string) string {
	for _, supported := range supportedSubprotocols {
		for _, candidate := range offered {
			if candidate == supported {
				return supported
			}
		}
	}
	return ""
}
