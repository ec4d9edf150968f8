package message

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/charging-platform/central-system/internal/domain/events"
)

// EventSink 向消息队列镜像状态事件的接口
type EventSink interface {
	// PublishEvent 异步发布一个事件
	PublishEvent(ctx context.Context, event events.Event) error
	// Close 关闭生产者
	Close() error
}

// CommandType 操作员远程指令类型
type CommandType string

const (
	CommandTypeRemoteStart CommandType = "remote_start_transaction"
	CommandTypeRemoteStop  CommandType = "remote_stop_transaction"
)

// Command 从指令主题消费的操作员远程指令
type Command struct {
	Type          CommandType `json:"type"`
	ChargePointID string      `json:"chargePointId"`
	ConnectorID   *int        `json:"connectorId,omitempty"`
	IdTag         string      `json:"idTag,omitempty"`
	TransactionID *int        `json:"transactionId,omitempty"`
}

// CommandHandler 指令处理函数
type CommandHandler func(cmd *Command)

// SaramaConsumerGroup sarama消费者组的最小接口，便于测试注入
type SaramaConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}
