package events

import (
	"context"
	"time"

	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/kafka"
	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// Mirror copies domain events from the in-process bus to Kafka topics so
// downstream consumers can subscribe. It is itself just another bus
// subscriber; mirror failures never affect the pipeline.
type Mirror struct {
	producer *kafka.Producer
	topics   map[Kind]string
	log      *logger.Logger
}

// NewMirror creates a mirror and subscribes it to the bus.
func NewMirror(bus *Bus, producer *kafka.Producer, cfg config.KafkaConfig, log *logger.Logger) *Mirror {
	m := &Mirror{
		producer: producer,
		topics: map[Kind]string{
			ThreatIngested:          cfg.Topics.ThreatIngested,
			AssociationCreated:      cfg.Topics.AssociationCreated,
			RiskAssessmentCompleted: cfg.Topics.RiskAssessed,
			ReportGenerated:         cfg.Topics.ReportGenerated,
			CollectionFailureAlert:  cfg.Topics.CollectionFailure,
		},
		log: log.WithComponent("event-mirror"),
	}

	bus.SubscribeAll(m.handle)
	return m
}

func (m *Mirror) handle(event Event) {
	topic, ok := m.topics[event.Kind]
	if !ok || topic == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.producer.PublishEvent(ctx, topic, kafka.Event{
		ID:        event.ID.String(),
		Type:      string(event.Kind),
		Source:    "aetim",
		Timestamp: event.Timestamp,
		Data:      event.Payload,
	})
	if err != nil {
		m.log.Warn("failed to mirror event", "kind", event.Kind, "error", err)
	}
}
