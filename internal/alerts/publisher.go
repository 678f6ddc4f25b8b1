// Package alerts publishes fraud alert events for downstream consumers
// (case management, notifications).
package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// AlertEvent is the payload published for risky decisions
type AlertEvent struct {
	EventID           uuid.UUID                `json:"event_id"`
	TransactionID     string                   `json:"transaction_id"`
	CustomerID        string                   `json:"customer_id"`
	Score             float64                  `json:"score"`
	Confidence        float64                  `json:"confidence"`
	RecommendedAction domain.RecommendedAction `json:"recommended_action"`
	Flags             []string                 `json:"flags"`
	Explanation       string                   `json:"explanation"`
	Timestamp         time.Time                `json:"timestamp"`
}

// Publisher emits fraud alerts to Kafka
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a Kafka-backed alert publisher
func NewPublisher(brokers []string, topic string, log *logger.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      log.Named("alert_publisher"),
	}, nil
}

// ShouldAlert reports whether an assessment warrants a published alert
func ShouldAlert(assessment *domain.RiskAssessment) bool {
	return assessment.RecommendedAction == domain.ActionBlock ||
		assessment.HasFlag("CRITICAL_RISK")
}

// Publish emits an alert event for the transaction. Failures are returned
// for the caller to log; alert publication is best-effort and never
// affects the assessment itself.
func (p *Publisher) Publish(tx *domain.Transaction, assessment *domain.RiskAssessment) error {
	event := AlertEvent{
		EventID:           uuid.New(),
		TransactionID:     tx.ID,
		CustomerID:        tx.CustomerID,
		Score:             assessment.Score,
		Confidence:        assessment.Confidence,
		RecommendedAction: assessment.RecommendedAction,
		Flags:             assessment.FlagCodes(),
		Explanation:       assessment.Explanation,
		Timestamp:         time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(tx.CustomerID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	p.log.AlertPublished(tx.ID, string(assessment.RecommendedAction), partition, offset)
	return nil
}

// Close shuts the underlying producer down
func (p *Publisher) Close() error {
	return p.producer.Close()
}
