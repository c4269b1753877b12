package cloud

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher publishes build lifecycle events to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *zap.SugaredLogger
}

// NewPublisher creates a build event publisher.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string, logger *zap.SugaredLogger) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers see the last state of each build
		logger:        orNop(logger),
	}
}

// BuildTopic returns the topic for one build
func (p *Publisher) BuildTopic(id string) string {
	return fmt.Sprintf("%s/builds/%s", p.publishPrefix, id)
}

// LatestTopic returns the topic that always carries the most recent build
func (p *Publisher) LatestTopic() string {
	return fmt.Sprintf("%s/builds/latest", p.publishPrefix)
}

// PublishBuild publishes a build record to its own topic and to the latest topic
func (p *Publisher) PublishBuild(rec BuildRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling build record: %w", err)
	}

	for _, topic := range []string{p.BuildTopic(rec.ID), p.LatestTopic()} {
		token := p.client.Publish(topic, p.qos, p.retain, payload)
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}

	p.logger.Debugw("published build event", "id", rec.ID, "state", rec.State)
	return nil
}

// Listener adapts the publisher to BuildTracker.Subscribe. Publish errors are
// logged since the tracker has nobody to return them to.
func (p *Publisher) Listener() BuildListener {
	return func(rec BuildRecord) {
		if err := p.PublishBuild(rec); err != nil {
			p.logger.Debugw("build event not published", "id", rec.ID, "error", err)
		}
	}
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
