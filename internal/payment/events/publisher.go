package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/paydesk/internal/config"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeStatusChanged = "payment.status_changed"

// message is the wire shape of a status change. Ids are strings so
// consumers in any language keep full snowflake precision.
type message struct {
	Type            string    `json:"type"`
	PaymentID       string    `json:"payment_id"`
	UserID          string    `json:"user_id,omitempty"`
	Status          string    `json:"status"`
	Source          string    `json:"source"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	SessionID       string    `json:"session_id,omitempty"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.Named("payment.events"),
	}
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, event paymentdomain.StatusChangedEvent) error {
	body := message{
		Type:            TypeStatusChanged,
		PaymentID:       event.PaymentID.String(),
		Status:          string(event.Status),
		Source:          event.Source,
		Amount:          event.Amount,
		Currency:        event.Currency,
		SessionID:       event.SessionID,
		PaymentIntentID: event.PaymentIntentID,
		OccurredAt:      event.OccurredAt.UTC(),
	}
	if event.UserID != nil {
		body.UserID = event.UserID.String()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(body.PaymentID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(TypeStatusChanged)},
		},
		Timestamp: body.OccurredAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	p.log.Debug("payment status published",
		zap.String("payment_id", body.PaymentID),
		zap.String("status", body.Status),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(context.Context, paymentdomain.StatusChangedEvent) error {
	return nil
}

// NewPublisher connects a synchronous producer when brokers are configured.
// An unreachable cluster degrades to the no-op publisher.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) paymentdomain.EventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return NoopPublisher{}
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = clientID(cfg.AppName)
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		log.Error("kafka producer unavailable, status events disabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.Error(err),
		)
		return NoopPublisher{}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return producer.Close()
		},
	})
	log.Info("kafka producer initialized", zap.String("topic", cfg.Kafka.PaymentTopic))
	return NewKafkaPublisher(producer, cfg.Kafka.PaymentTopic, log)
}

func clientID(appName string) string {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return "paydesk"
	}
	return appName
}
