package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charging-platform/central-system/internal/config"
)

// 配置调试工具
// 打印环境变量与最终生效的配置，用于排查多环境配置问题
func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	fmt.Println("=== Central System Configuration Test ===")

	fmt.Println("\n--- Environment Variables ---")
	envVars := []string{
		"APP_PROFILE",
		"LISTEN_ADDR",
		"HEARTBEAT_INTERVAL",
		"PING_INTERVAL",
		"PENDING_REQUEST_TTL",
		"MAX_OUTBOUND_QUEUE",
		"WS_PATH_PREFIX",
		"ACCEPT_UNKNOWN_TAGS",
		"LOG_LEVEL",
		"METRICS_ENABLED",
		"REDIS_ADDR",
		"KAFKA_BROKERS",
	}
	for _, env := range envVars {
		value := os.Getenv(env)
		if value != "" {
			fmt.Printf("%s = %s\n", env, value)
		} else {
			fmt.Printf("%s = (not set)\n", env)
		}
	}

	fmt.Println("\n--- Loading Configuration ---")
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n--- Final Configuration ---")
	fmt.Printf("App Name: %s\n", cfg.App.Name)
	fmt.Printf("App Profile: %s\n", cfg.App.Profile)
	fmt.Printf("Server Address: %s\n", cfg.GetServerAddr())
	fmt.Printf("Heartbeat Interval: %s\n", cfg.OCPP.HeartbeatInterval)
	fmt.Printf("Ping Interval: %s\n", cfg.OCPP.PingInterval)
	fmt.Printf("Pending Request TTL: %s\n", cfg.OCPP.PendingRequestTTL)
	fmt.Printf("Max Outbound Queue: %d\n", cfg.OCPP.MaxOutboundQueue)
	fmt.Printf("WS Path Prefix: %s\n", cfg.GetWSPathPrefix())
	fmt.Printf("Accept Unknown Tags: %v\n", cfg.AcceptUnknownTags())
	fmt.Printf("Seed Tags: %d\n", len(cfg.Auth.Tags))
	fmt.Printf("Log Level: %s\n", cfg.Log.Level)
	fmt.Printf("Metrics Enabled: %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
	fmt.Printf("Redis Enabled: %v (%s)\n", cfg.RedisEnabled(), cfg.Redis.Addr)
	fmt.Printf("Kafka Enabled: %v (%v)\n", cfg.KafkaEnabled(), cfg.Kafka.Brokers)

	fmt.Println("\n--- Environment Check ---")
	fmt.Printf("Is Development: %v\n", cfg.IsDevelopment())
	fmt.Printf("Is Production: %v\n", cfg.IsProduction())

	fmt.Println("\n=== Configuration test completed ===")
}
