package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/central-system/internal/api"
	"github.com/charging-platform/central-system/internal/business/authorization"
	"github.com/charging-platform/central-system/internal/business/chargepoint"
	"github.com/charging-platform/central-system/internal/business/transaction"
	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/config"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/eventbus"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/message"
	protoocpp "github.com/charging-platform/central-system/internal/protocol/ocpp16"
	"github.com/charging-platform/central-system/internal/storage"
	"github.com/charging-platform/central-system/internal/transport/dashboard"
	"github.com/charging-platform/central-system/internal/transport/server"
	"github.com/charging-platform/central-system/internal/transport/websocket"
)

func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Async:  cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Infof("Starting %s (profile: %s)", cfg.App.Name, cfg.App.Profile)

	clk := clock.NewSystemClock()

	// 3. 事件总线
	bus := eventbus.NewBus(nil, log)

	// 4. 可选的Kafka事件出口
	var producer *message.KafkaProducer
	if cfg.KafkaEnabled() {
		producer, err = message.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka producer: %v", err)
		}
		bus.SetSink(producer)
		log.Infof("Kafka event sink initialized, brokers: %v topic: %s", cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
	}

	if err := bus.Start(); err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}

	// 5. 可选的Redis交易持久化
	var store transaction.Store
	if cfg.RedisEnabled() {
		redisStore, err := storage.NewRedisTransactionStore(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis store: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
		log.Infof("Redis transaction store initialized at %s", cfg.Redis.Addr)
	}

	// 6. 业务注册表
	auth := authorization.NewRegistry(authorization.Config{
		AcceptUnknownTags: cfg.AcceptUnknownTags(),
	}, clk, log)
	seedAuthTags(cfg, auth, log)

	stations := chargepoint.NewManager(clk, log, bus)
	transactions := transaction.NewManager(auth, store, clk, log)

	// 7. 协议层：未决请求跟踪器与分发器
	tracker := protoocpp.NewTracker(cfg.OCPP.PendingRequestTTL, clk, log)
	tracker.Start()

	dispatcher := protoocpp.NewDispatcher(auth, stations, transactions, tracker,
		cfg.OCPP.HeartbeatInterval, clk, log)

	// 8. 传输层
	wsConfig := websocket.DefaultConfig()
	wsConfig.PingInterval = cfg.OCPP.PingInterval
	wsConfig.MaxOutboundQueue = cfg.OCPP.MaxOutboundQueue
	wsConfig.MaxConnections = cfg.Server.MaxConnections
	wsManager := websocket.NewManager(wsConfig, dispatcher, clk, log)
	dispatcher.SetSender(wsManager)

	hub := dashboard.NewHub(nil, bus, log)

	apiHandler := api.NewHandler(&api.Config{
		CommandTimeout: cfg.OCPP.PendingRequestTTL + 5*time.Second,
		ExposeErrors:   cfg.IsDevelopment(),
	}, stations, transactions, dispatcher, clk, log)

	// 9. 可选的Kafka指令消费者
	var consumer *message.KafkaConsumer
	if cfg.KafkaEnabled() {
		consumer, err = message.NewKafkaConsumer(cfg.Kafka, log)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka consumer: %v", err)
		}
		commandTimeout := cfg.OCPP.PendingRequestTTL + 5*time.Second
		go func() {
			if err := consumer.Start(commandHandler(dispatcher, commandTimeout, log)); err != nil {
				log.Errorf("Kafka consumer failed: %v", err)
			}
		}()
		log.Infof("Kafka command consumer started, group: %s topic: %s",
			cfg.Kafka.ConsumerGroup, cfg.Kafka.CommandTopic)
	}

	// 10. 路由：REST投影 + 仪表盘 + 充电桩接入
	router := apiHandler.Router()
	router.HandleFunc("/ws", hub.ServeWS)
	router.PathPrefix(cfg.GetWSPathPrefix()).HandlerFunc(wsManager.ServeWS)

	// 11. 可选的metrics监听
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Addr, log)
	}

	// 12. 主服务器
	serverConfig := server.DefaultConfig()
	serverConfig.ListenAddr = cfg.GetServerAddr()
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	httpServer := server.NewServer(serverConfig, router, log)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 13. 等待退出信号，逆序关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("Received signal %s, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}
	wsManager.Stop()
	hub.Stop()
	tracker.Stop()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Errorf("Kafka consumer close error: %v", err)
		}
	}
	if err := bus.Stop(); err != nil {
		log.Errorf("Event bus stop error: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Kafka producer close error: %v", err)
		}
	}

	log.Info("Central system stopped")
	log.Close()
}

// commandHandler 将消息队列中的运营指令送入服务端发起路径
func commandHandler(dispatcher *protoocpp.Dispatcher, timeout time.Duration, log *logger.Logger) message.CommandHandler {
	return func(cmd *message.Command) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		switch cmd.Type {
		case message.CommandTypeRemoteStart:
			status, err := dispatcher.RemoteStart(ctx, cmd.ChargePointID, cmd.ConnectorID, cmd.IdTag)
			if err != nil {
				log.Errorf("Remote start for %s failed: %v", cmd.ChargePointID, err)
				return
			}
			log.Infof("Remote start for %s: %s", cmd.ChargePointID, status)
		case message.CommandTypeRemoteStop:
			if cmd.TransactionID == nil {
				log.Warnf("Remote stop command for %s missing transactionId", cmd.ChargePointID)
				return
			}
			status, err := dispatcher.RemoteStop(ctx, cmd.ChargePointID, *cmd.TransactionID)
			if err != nil {
				log.Errorf("Remote stop for %s failed: %v", cmd.ChargePointID, err)
				return
			}
			log.Infof("Remote stop for %s: %s", cmd.ChargePointID, status)
		default:
			log.Warnf("Unknown command type %q for %s", cmd.Type, cmd.ChargePointID)
		}
	}
}

// seedAuthTags 将配置文件中的预置标签写入授权注册表
func seedAuthTags(cfg *config.Config, auth *authorization.Registry, log *logger.Logger) {
	for _, tag := range cfg.Auth.Tags {
		if tag.IdTag == "" {
			continue
		}
		status := ocpp16.AuthorizationStatus(tag.Status)
		if status == "" {
			status = ocpp16.AuthorizationStatusAccepted
		}
		var expiry *time.Time
		if tag.ExpiryDate != "" {
			parsed, err := time.Parse(time.RFC3339, tag.ExpiryDate)
			if err != nil {
				log.Warnf("Ignoring invalid expiry date %q for tag %s: %v", tag.ExpiryDate, tag.IdTag, err)
			} else {
				expiry = &parsed
			}
		}
		auth.Register(tag.IdTag, status, expiry, tag.ParentIdTag)
	}
	if len(cfg.Auth.Tags) > 0 {
		log.Infof("Seeded %d authorization tags from configuration", len(cfg.Auth.Tags))
	}
}

// startMetricsServer 启动独立的Prometheus指标监听
func startMetricsServer(addr string, log *logger.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Errorf("Metrics server failed: %v", err)
	}
}
