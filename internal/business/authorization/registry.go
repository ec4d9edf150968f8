package authorization

import (
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
)

// IdTag 一条授权记录
type IdTag struct {
	Value       string                     `json:"idTag"`
	Status      ocpp16.AuthorizationStatus `json:"status"`
	ExpiryDate  *time.Time                 `json:"expiryDate,omitempty"`
	ParentIdTag string                     `json:"parentIdTag,omitempty"`
}

type sessionKey struct {
	chargePointID string
	idTag         string
}

// Config 授权注册表配置
type Config struct {
	// AcceptUnknownTags 开发环境放行未注册标签
	AcceptUnknownTags bool
}

// Registry ID标签授权注册表
// 按标签精确匹配；过期标签对外报告Expired但不修改存储
type Registry struct {
	tags     map[string]IdTag
	sessions map[sessionKey]time.Time
	mutex    sync.RWMutex

	config Config
	clock  clock.Clock
	logger *logger.Logger
}

// NewRegistry 创建授权注册表
func NewRegistry(config Config, clk clock.Clock, log *logger.Logger) *Registry {
	return &Registry{
		tags:     make(map[string]IdTag),
		sessions: make(map[sessionKey]time.Time),
		config:   config,
		clock:    clk,
		logger:   log,
	}
}

// Register 注册或覆盖一条授权记录
func (r *Registry) Register(value string, status ocpp16.AuthorizationStatus, expiryDate *time.Time, parentIdTag string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.tags[value] = IdTag{
		Value:       value,
		Status:      status,
		ExpiryDate:  expiryDate,
		ParentIdTag: parentIdTag,
	}
	r.logger.Debugf("ID tag registered: %s (%s)", value, status)
}

// Validate 查询标签授权状态
// 未知标签在生产配置下返回Invalid，开发配置下返回Accepted；
// 已过期的已知标签无论存储状态一律报告Expired
func (r *Registry) Validate(idTag string) ocpp16.IdTagInfo {
	r.mutex.RLock()
	tag, exists := r.tags[idTag]
	r.mutex.RUnlock()

	if !exists {
		if r.config.AcceptUnknownTags {
			r.logger.Debugf("Unknown ID tag %s accepted (development profile)", idTag)
			return ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusAccepted}
		}
		return ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusInvalid}
	}

	info := ocpp16.IdTagInfo{Status: tag.Status}
	if tag.ExpiryDate != nil {
		expiry := ocpp16.NewDateTime(*tag.ExpiryDate)
		info.ExpiryDate = &expiry
		if tag.ExpiryDate.Before(r.clock.Now()) {
			info.Status = ocpp16.AuthorizationStatusExpired
		}
	}
	if tag.ParentIdTag != "" {
		parent := tag.ParentIdTag
		info.ParentIdTag = &parent
	}
	return info
}

// StartSession 校验标签并记录站点会话
// 只有Accepted结果才产生会话条目
func (r *Registry) StartSession(chargePointID, idTag string) ocpp16.IdTagInfo {
	info := r.Validate(idTag)
	if info.Status != ocpp16.AuthorizationStatusAccepted {
		return info
	}

	r.mutex.Lock()
	r.sessions[sessionKey{chargePointID: chargePointID, idTag: idTag}] = r.clock.Now()
	r.mutex.Unlock()

	r.logger.Debugf("Authorization session started: %s on %s", idTag, chargePointID)
	return info
}

// IsAuthorized 检查站点上是否存在该标签的活跃会话
func (r *Registry) IsAuthorized(chargePointID, idTag string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.sessions[sessionKey{chargePointID: chargePointID, idTag: idTag}]
	return exists
}

// EndSession 结束站点会话，幂等
func (r *Registry) EndSession(chargePointID, idTag string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, sessionKey{chargePointID: chargePointID, idTag: idTag})
}

// Get 查询存储的授权记录
func (r *Registry) Get(idTag string) (IdTag, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	tag, exists := r.tags[idTag]
	return tag, exists
}

// List 返回所有授权记录的副本
func (r *Registry) List() []IdTag {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]IdTag, 0, len(r.tags))
	for _, tag := range r.tags {
		result = append(result, tag)
	}
	return result
}
