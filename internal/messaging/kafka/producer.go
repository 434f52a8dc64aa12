package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "purchase-saga"

// Producer публикует исходы саги покупки (completed, failed, compensated)
// в TopicPurchaseEvents. Вызывается из outbox relay, а не из самой саги.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer подключается к брокерам синхронным идемпотентным producer:
// событие компенсации не должно задублироваться при ретрае.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create purchase events producer: %w", err)
	}

	return newProducer(producer, logger), nil
}

func newProducer(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{
		producer: producer,
		logger:   logger,
	}
}

// PublishEvent отправляет событие в topic под ключом key.
// Для *PurchaseEvent пустой ключ заменяется correlation id, время сообщения
// берётся из события, а тип и correlation id дублируются в заголовках,
// чтобы потребители могли фильтровать без разбора JSON.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now().UTC(),
	}
	fields := log.Fields{"topic": topic}

	if purchase, ok := event.(*PurchaseEvent); ok && purchase != nil {
		if key == "" {
			key = purchase.CorrelationID
		}
		if !purchase.Timestamp.IsZero() {
			msg.Timestamp = purchase.Timestamp
		}
		msg.Headers = []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(purchase.EventType)},
			{Key: []byte(HeaderCorrelationID), Value: []byte(purchase.CorrelationID)},
		}
		fields["event_type"] = purchase.EventType
		if purchase.OrderNumber != "" {
			fields["order_number"] = purchase.OrderNumber
		}
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	fields["key"] = key

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to publish purchase event")
		return fmt.Errorf("send purchase event: %w", err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("purchase event published")
	return nil
}

// Close дожидается отправки буфера и закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close purchase events producer: %w", err)
	}
	return nil
}
