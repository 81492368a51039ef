package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/logger"
)

// EventInteractionRecorded 事件类型
const EventInteractionRecorded = "InteractionRecorded"

// InteractionRecorded 交互写入状态库后发布的事件
type InteractionRecorded struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	Corpus         string    `json:"corpus"`
	ConversationID uint      `json:"conversation_id"`
	InteractionID  uint      `json:"interaction_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Timestamp      time.Time `json:"timestamp"`
}

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	corpus   string
	logger   *zap.Logger
}

// NewConfig 生产者配置
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	return config
}

// NewProducer 连接brokers创建生产者
func NewProducer(brokers []string, topic, corpus string, log *zap.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	sp, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}
	p := NewProducerWith(sp, topic, corpus, log)
	p.logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p, nil
}

// NewProducerWith 使用已有的SyncProducer
func NewProducerWith(sp sarama.SyncProducer, topic, corpus string, log *zap.Logger) *Producer {
	if log == nil {
		log = logger.Named("kafka")
	}
	return &Producer{producer: sp, topic: topic, corpus: corpus, logger: log}
}

// PublishInteraction 发布InteractionRecorded，按对话分区
func (p *Producer) PublishInteraction(ctx context.Context, conversationID, interactionID uint, question, answer string) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := InteractionRecorded{
		EventID:        uuid.NewString(),
		Type:           EventInteractionRecorded,
		Corpus:         p.corpus,
		ConversationID: conversationID,
		InteractionID:  interactionID,
		Question:       question,
		Answer:         answer,
		Timestamp:      time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(p.corpus + "-" + strconv.FormatUint(uint64(conversationID), 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
			{Key: []byte("event_type"), Value: []byte(EventInteractionRecorded)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}
	p.logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Uint("conversation_id", conversationID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
