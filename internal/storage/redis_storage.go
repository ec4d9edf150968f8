package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/charging-platform/central-system/internal/business/transaction"
	"github.com/charging-platform/central-system/internal/config"
)

// RedisTransactionStore 基于Redis的交易持久化
// 保存交易ID计数器与已完成交易；实现transaction.Store
type RedisTransactionStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisTransactionStore 创建Redis交易存储并验证连通性
func NewRedisTransactionStore(cfg config.RedisConfig) (*RedisTransactionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "centralsystem"
	}
	return &RedisTransactionStore{Client: client, Prefix: prefix}, nil
}

func (r *RedisTransactionStore) counterKey() string {
	return r.Prefix + ":txn:next"
}

func (r *RedisTransactionStore) completedKey() string {
	return r.Prefix + ":txn:completed"
}

// LoadNextID 加载下一个交易ID
// 计数器键缺失时回退为已完成交易的max(id)+1，完全无记录返回0
func (r *RedisTransactionStore) LoadNextID(ctx context.Context) (int, error) {
	val, err := r.Client.Get(ctx, r.counterKey()).Result()
	if err == nil {
		next, convErr := strconv.Atoi(val)
		if convErr != nil {
			return 0, fmt.Errorf("corrupt transaction counter %q: %w", val, convErr)
		}
		return next, nil
	}
	if err != redis.Nil {
		return 0, fmt.Errorf("failed to load transaction counter: %w", err)
	}

	// 回退：扫描已完成交易的最大ID
	ids, err := r.Client.HKeys(ctx, r.completedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan completed transactions: %w", err)
	}
	maxID := 0
	for _, raw := range ids {
		if id, convErr := strconv.Atoi(raw); convErr == nil && id > maxID {
			maxID = id
		}
	}
	if maxID == 0 {
		return 0, nil
	}
	return maxID + 1, nil
}

// SaveNextID 持久化下一个交易ID
func (r *RedisTransactionStore) SaveNextID(ctx context.Context, next int) error {
	if err := r.Client.Set(ctx, r.counterKey(), strconv.Itoa(next), 0).Err(); err != nil {
		return fmt.Errorf("failed to save transaction counter: %w", err)
	}
	return nil
}

// SaveCompleted 持久化一条已完成交易的JSON记录
func (r *RedisTransactionStore) SaveCompleted(ctx context.Context, record transaction.Snapshot) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction %d: %w", record.ID, err)
	}
	if err := r.Client.HSet(ctx, r.completedKey(), strconv.Itoa(record.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to save transaction %d: %w", record.ID, err)
	}
	return nil
}

// LoadCompleted 读取所有已完成交易记录
func (r *RedisTransactionStore) LoadCompleted(ctx context.Context) ([]transaction.Snapshot, error) {
	raw, err := r.Client.HGetAll(ctx, r.completedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load completed transactions: %w", err)
	}

	records := make([]transaction.Snapshot, 0, len(raw))
	for field, value := range raw {
		var record transaction.Snapshot
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, fmt.Errorf("corrupt transaction record %s: %w", field, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Close 关闭Redis连接
func (r *RedisTransactionStore) Close() error {
	return r.Client.Close()
}
