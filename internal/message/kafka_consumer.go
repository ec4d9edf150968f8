package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/charging-platform/central-system/internal/config"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// KafkaConsumer 操作员指令的Kafka消费者
// 消费指令主题并交给CommandHandler，与HTTP指令入口走同一条下发路径
type KafkaConsumer struct {
	consumerGroup SaramaConsumerGroup
	topic         string
	logger        *logger.Logger
	cancel        context.CancelFunc
	handler       CommandHandler
}

// NewKafkaConsumer 创建指令消费者
func NewKafkaConsumer(cfg config.KafkaConfig, log *logger.Logger) (*KafkaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRange()
	saramaConfig.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	if strings.EqualFold(cfg.Consumer.OffsetsInitial, "oldest") {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama consumer group: %w", err)
	}

	go func() {
		for groupErr := range consumerGroup.Errors() {
			log.Errorf("Sarama consumer group error: %v", groupErr)
		}
	}()

	return NewKafkaConsumerWithGroup(consumerGroup, cfg.CommandTopic, log), nil
}

// NewKafkaConsumerWithGroup 注入消费者组，便于测试
func NewKafkaConsumerWithGroup(group SaramaConsumerGroup, topic string, log *logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		consumerGroup: group,
		topic:         topic,
		logger:        log,
	}
}

// Start 启动消费循环
func (c *KafkaConsumer) Start(handler CommandHandler) error {
	c.handler = handler

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer cancel()
		for {
			// Consume在session结束前持续处理
			if err := c.consumerGroup.Consume(ctx, []string{c.topic}, c); err != nil {
				c.logger.Errorf("Error from Kafka consumer group: %v", err)
			}
			if ctx.Err() != nil {
				c.logger.Info("Kafka consumer context cancelled, stopping consumption")
				return
			}
			// 避免错误下的快速重试
			time.Sleep(time.Second)
		}
	}()
	return nil
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.consumerGroup != nil {
		return c.consumerGroup.Close()
	}
	return nil
}

// Setup 实现sarama.ConsumerGroupHandler
func (c *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group setup completed")
	return nil
}

// Cleanup 实现sarama.ConsumerGroupHandler
func (c *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group cleanup completed")
	return nil
}

// ConsumeClaim 核心消费逻辑
// 消息无论处理成败都标记，避免坏消息阻塞分区
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var cmd Command
		if err := json.Unmarshal(message.Value, &cmd); err != nil {
			c.logger.Errorf("Failed to unmarshal command: %v, message: %s", err, string(message.Value))
			session.MarkMessage(message, "")
			continue
		}

		metrics.CommandsConsumed.WithLabelValues(string(cmd.Type)).Inc()
		c.handler(&cmd)
		session.MarkMessage(message, "")

		c.logger.Debugf("Command consumed: type=%s chargePoint=%s partition=%d offset=%d",
			cmd.Type, cmd.ChargePointID, message.Partition, message.Offset)
	}
	return nil
}
