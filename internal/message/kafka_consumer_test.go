package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/logger"
)

// MockSaramaConsumerGroup 模拟SaramaConsumerGroup接口
type MockSaramaConsumerGroup struct {
	mock.Mock
}

func (m *MockSaramaConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	args := m.Called(ctx, topics, handler)
	return args.Error(0)
}

func (m *MockSaramaConsumerGroup) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockConsumerGroupSession 模拟sarama.ConsumerGroupSession，记录已标记的消息
type MockConsumerGroupSession struct {
	mutex  sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (m *MockConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.marked = append(m.marked, msg)
}

func (m *MockConsumerGroupSession) markedCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.marked)
}

func (m *MockConsumerGroupSession) Claims() map[string][]int32 { return nil }
func (m *MockConsumerGroupSession) MemberID() string           { return "" }
func (m *MockConsumerGroupSession) GenerationID() int32        { return 0 }
func (m *MockConsumerGroupSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
}
func (m *MockConsumerGroupSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
}
func (m *MockConsumerGroupSession) Commit()                  {}
func (m *MockConsumerGroupSession) Context() context.Context { return context.Background() }

// MockConsumerGroupClaim 模拟sarama.ConsumerGroupClaim
type MockConsumerGroupClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (m *MockConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }
func (m *MockConsumerGroupClaim) Topic() string                            { return "ocpp-commands" }
func (m *MockConsumerGroupClaim) Partition() int32                         { return 0 }
func (m *MockConsumerGroupClaim) InitialOffset() int64                     { return 0 }
func (m *MockConsumerGroupClaim) HighWaterMarkOffset() int64               { return 0 }

func commandMessage(t *testing.T, cmd Command) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic: "ocpp-commands",
		Key:   []byte(cmd.ChargePointID),
		Value: data,
	}
}

func TestConsumeClaim_DispatchesCommands(t *testing.T) {
	var received []*Command
	consumer := NewKafkaConsumerWithGroup(nil, "ocpp-commands", logger.NewNop())
	consumer.handler = func(cmd *Command) {
		received = append(received, cmd)
	}

	connectorID := 1
	claim := &MockConsumerGroupClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- commandMessage(t, Command{
		Type:          CommandTypeRemoteStart,
		ChargePointID: "CP001",
		ConnectorID:   &connectorID,
		IdTag:         "TAG001",
	})
	claim.messages <- commandMessage(t, Command{
		Type:          CommandTypeRemoteStop,
		ChargePointID: "CP001",
	})
	close(claim.messages)

	session := &MockConsumerGroupSession{}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	require.Len(t, received, 2)
	assert.Equal(t, CommandTypeRemoteStart, received[0].Type)
	assert.Equal(t, "TAG001", received[0].IdTag)
	require.NotNil(t, received[0].ConnectorID)
	assert.Equal(t, 1, *received[0].ConnectorID)
	assert.Equal(t, CommandTypeRemoteStop, received[1].Type)
	assert.Equal(t, 2, session.markedCount())
}

func TestConsumeClaim_SkipsMalformedMessages(t *testing.T) {
	var received []*Command
	consumer := NewKafkaConsumerWithGroup(nil, "ocpp-commands", logger.NewNop())
	consumer.handler = func(cmd *Command) {
		received = append(received, cmd)
	}

	claim := &MockConsumerGroupClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "ocpp-commands", Value: []byte(`{"type":`)}
	claim.messages <- commandMessage(t, Command{Type: CommandTypeRemoteStop, ChargePointID: "CP001"})
	close(claim.messages)

	session := &MockConsumerGroupSession{}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	// 坏消息被跳过但仍标记offset，不会阻塞分区
	require.Len(t, received, 1)
	assert.Equal(t, CommandTypeRemoteStop, received[0].Type)
	assert.Equal(t, 2, session.markedCount())
}

func TestKafkaConsumer_StartAndClose(t *testing.T) {
	group := &MockSaramaConsumerGroup{}
	group.On("Consume", mock.Anything, []string{"ocpp-commands"}, mock.Anything).Return(context.Canceled).Maybe()
	group.On("Close").Return(nil)

	consumer := NewKafkaConsumerWithGroup(group, "ocpp-commands", logger.NewNop())
	require.NoError(t, consumer.Start(func(cmd *Command) {}))

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, consumer.Close())
	group.AssertCalled(t, "Close")
}
