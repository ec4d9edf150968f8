package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/charging-platform/central-system/internal/business/chargepoint"
	"github.com/charging-platform/central-system/internal/business/transaction"
	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
	protoocpp "github.com/charging-platform/central-system/internal/protocol/ocpp16"
)

// Commander 服务端发起命令的执行器，由协议层实现
type Commander interface {
	RemoteStart(ctx context.Context, chargePointID string, connectorID *int, idTag string) (ocpp16.RemoteStartStopStatus, error)
	RemoteStop(ctx context.Context, chargePointID string, transactionID int) (ocpp16.RemoteStartStopStatus, error)
}

// Config HTTP接口配置
type Config struct {
	// CommandTimeout 远程命令的整体等待上限
	CommandTimeout time.Duration `json:"command_timeout"`
	// ExposeErrors 开发环境下在500响应中携带错误详情
	ExposeErrors bool `json:"expose_errors"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		CommandTimeout: 35 * time.Second,
		ExposeErrors:   false,
	}
}

// Handler HTTP只读投影与运营命令入口
type Handler struct {
	config       *Config
	stations     *chargepoint.Manager
	transactions *transaction.Manager
	commander    Commander
	clock        clock.Clock
	logger       *logger.Logger
}

// NewHandler 创建HTTP处理器
func NewHandler(config *Config, stations *chargepoint.Manager, transactions *transaction.Manager,
	commander Commander, clk clock.Clock, log *logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{
		config:       config,
		stations:     stations,
		transactions: transactions,
		commander:    commander,
		clock:        clk,
		logger:       log,
	}
}

// Router 构建路由
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/stations", h.handleStations).Methods(http.MethodGet)
	r.HandleFunc("/api/stations/{id}", h.handleStation).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions", h.handleTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/stations/{id}/transactions", h.handleStationTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/stations/{id}/remotestart", h.handleRemoteStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stations/{id}/remotestop", h.handleRemoteStop).Methods(http.MethodPost)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": h.clock.NowISO(),
	})
}

func (h *Handler) handleStations(w http.ResponseWriter, r *http.Request) {
	stations := h.stations.List()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(stations),
		"stations": stations,
	})
}

func (h *Handler) handleStation(w http.ResponseWriter, r *http.Request) {
	chargePointID := mux.Vars(r)["id"]
	snapshot, exists := h.stations.Get(chargePointID)
	if !exists {
		h.writeError(w, http.StatusNotFound, "charge point "+chargePointID+" not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"station": snapshot,
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	transactions := h.transactions.List()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(transactions),
		"transactions": transactions,
	})
}

func (h *Handler) handleStationTransactions(w http.ResponseWriter, r *http.Request) {
	chargePointID := mux.Vars(r)["id"]
	if _, exists := h.stations.Get(chargePointID); !exists {
		h.writeError(w, http.StatusNotFound, "charge point "+chargePointID+" not found")
		return
	}
	transactions := h.transactions.ByStation(chargePointID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chargePointId": chargePointID,
		"count":         len(transactions),
		"transactions":  transactions,
	})
}

// remoteStartRequest 运营侧远程启动请求体
type remoteStartRequest struct {
	ConnectorID *int   `json:"connectorId,omitempty"`
	IdTag       string `json:"idTag"`
}

// remoteStopRequest 运营侧远程停止请求体
type remoteStopRequest struct {
	TransactionID *int `json:"transactionId"`
}

func (h *Handler) handleRemoteStart(w http.ResponseWriter, r *http.Request) {
	chargePointID := mux.Vars(r)["id"]
	if _, exists := h.stations.Get(chargePointID); !exists {
		h.writeError(w, http.StatusNotFound, "charge point "+chargePointID+" not found")
		return
	}

	var req remoteStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.IdTag) == "" {
		h.writeError(w, http.StatusBadRequest, "idTag is required")
		return
	}
	if req.ConnectorID != nil && *req.ConnectorID < 1 {
		h.writeError(w, http.StatusBadRequest, "connectorId must be at least 1")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.CommandTimeout)
	defer cancel()

	status, err := h.commander.RemoteStart(ctx, chargePointID, req.ConnectorID, req.IdTag)
	if err != nil {
		h.writeCommandError(w, chargePointID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chargePointId": chargePointID,
		"status":        status,
	})
}

func (h *Handler) handleRemoteStop(w http.ResponseWriter, r *http.Request) {
	chargePointID := mux.Vars(r)["id"]
	if _, exists := h.stations.Get(chargePointID); !exists {
		h.writeError(w, http.StatusNotFound, "charge point "+chargePointID+" not found")
		return
	}

	var req remoteStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionID == nil {
		h.writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.CommandTimeout)
	defer cancel()

	status, err := h.commander.RemoteStop(ctx, chargePointID, *req.TransactionID)
	if err != nil {
		h.writeCommandError(w, chargePointID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chargePointId": chargePointID,
		"transactionId": *req.TransactionID,
		"status":        status,
	})
}

// writeCommandError 将远程命令失败映射为HTTP状态码
func (h *Handler) writeCommandError(w http.ResponseWriter, chargePointID string, err error) {
	switch {
	case errors.Is(err, protoocpp.ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "charge point did not respond in time")
	case errors.Is(err, protoocpp.ErrStationDisconnected):
		h.writeError(w, http.StatusBadGateway, "charge point disconnected while awaiting response")
	default:
		h.logger.Errorf("Remote command for %s failed: %v", chargePointID, err)
		if h.config.ExposeErrors {
			h.writeError(w, http.StatusBadGateway, err.Error())
		} else {
			h.writeError(w, http.StatusBadGateway, "remote command failed")
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorWithErr(err, "Failed to encode HTTP response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
