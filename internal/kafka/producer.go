package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gig-dispatch/internal/config"
	"gig-dispatch/internal/logger"
	"gig-dispatch/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer представляет Kafka producer
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает новый Kafka producer
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll       // Ждем подтверждения от всех реплик
	config.Producer.Retry.Max = 3                          // Максимум 3 попытки
	config.Producer.Return.Successes = true                // Возвращаем успешные результаты
	config.Producer.Compression = sarama.CompressionSnappy // Сжатие данных

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer created successfully")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishGigCreated публикует событие создания заявки
func (p *Producer) PublishGigCreated(gig *models.GigRequest) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeGigCreated,
		Timestamp: time.Now(),
		Data: models.GigCreatedEvent{
			GigID:          gig.ID,
			ClientID:       gig.ClientID,
			Category:       gig.Category,
			Urgency:        gig.Urgency,
			Lat:            gig.Lat,
			Lon:            gig.Lon,
			EstimatedPrice: gig.EstimatedPrice,
		},
	}

	return p.publishEvent(p.topics.Gigs, event)
}

// PublishGigStatusChanged публикует событие перехода статуса заявки
func (p *Producer) PublishGigStatusChanged(gigID uuid.UUID, oldStatus, newStatus models.GigStatus, version int64, actor string) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeGigStatusChanged,
		Timestamp: time.Now(),
		Data: models.GigStatusChangedEvent{
			GigID:     gigID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Version:   version,
			Actor:     actor,
			Timestamp: time.Now(),
		},
	}

	return p.publishEvent(p.topics.Gigs, event)
}

// PublishGigAssigned публикует событие закрепления заявки за исполнителем
func (p *Producer) PublishGigAssigned(assignment *models.Assignment) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeGigAssigned,
		Timestamp: time.Now(),
		Data: models.GigAssignedEvent{
			GigID:         assignment.GigID,
			WorkerID:      assignment.WorkerID,
			DistanceMiles: assignment.DistanceMiles,
			ETAMinutes:    assignment.ETAMinutes,
			Timestamp:     time.Now(),
		},
	}

	return p.publishEvent(p.topics.Gigs, event)
}

// PublishGigDispatchRequested публикует ранжированный список кандидатов.
// Транспорт push-уведомлений подписывается на это событие и сам
// доставляет приглашения исполнителям.
func (p *Producer) PublishGigDispatchRequested(gigID uuid.UUID, candidates []uuid.UUID) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeGigDispatchRequested,
		Timestamp: time.Now(),
		Data: models.GigDispatchRequestedEvent{
			GigID:      gigID,
			Candidates: candidates,
			Timestamp:  time.Now(),
		},
	}

	return p.publishEvent(p.topics.Gigs, event)
}

// PublishWorkerAvailability публикует событие изменения доступности исполнителя
func (p *Producer) PublishWorkerAvailability(workerID uuid.UUID, availableNow bool) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeWorkerAvailability,
		Timestamp: time.Now(),
		Data: models.WorkerAvailabilityEvent{
			WorkerID:     workerID,
			AvailableNow: availableNow,
			Timestamp:    time.Now(),
		},
	}

	return p.publishEvent(p.topics.Workers, event)
}

// PublishLocationUpdated публикует событие обновления местоположения
func (p *Producer) PublishLocationUpdated(workerID uuid.UUID, lat, lon float64) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypeLocationUpdated,
		Timestamp: time.Now(),
		Data: models.LocationUpdatedEvent{
			WorkerID:  workerID,
			Lat:       lat,
			Lon:       lon,
			Timestamp: time.Now(),
		},
	}

	return p.publishEvent(p.topics.Locations, event)
}

// Capture реализует services.PaymentCapturer: запрос на списание уходит
// в платежный топик, провайдер дедуплицирует по ключу идемпотентности
func (p *Producer) Capture(_ context.Context, gigID uuid.UUID, amount float64, idempotencyKey string) error {
	event := models.Event{
		ID:        uuid.New(),
		Type:      models.EventTypePaymentCaptureRequested,
		Timestamp: time.Now(),
		Data: models.PaymentCaptureRequestedEvent{
			GigID:          gigID,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			Timestamp:      time.Now(),
		},
	}

	return p.publishEvent(p.topics.Payments, event)
}

// publishEvent публикует событие в указанный топик
func (p *Producer) publishEvent(topic string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ID.String()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
			{
				Key:   []byte("timestamp"),
				Value: []byte(event.Timestamp.Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithField("topic", topic).
		WithField("partition", partition).
		WithField("offset", offset).
		WithField("event_type", event.Type).
		WithField("event_id", event.ID).
		Debug("Event published successfully")

	return nil
}
