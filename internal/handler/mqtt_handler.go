package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the notifier uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes immediate-action alerts for supervisors.
type MQTTNotifier struct {
	client Publisher
	topic  string
}

func NewMQTTNotifier(client Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topic}
}

func (n *MQTTNotifier) NotifyAlert(_ context.Context, a *models.Alert) error {
	payload, err := json.Marshal(models.AlertNotification{
		AlertID:   a.ID,
		OfficerID: a.SubjectID,
		AlertType: a.AlertType,
		Severity:  a.Severity,
		Message:   a.Message,
		Action:    a.ActionRequired,
		HeartRate: a.HeartRate,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal alert notification: %w", err)
	}
	token := n.client.Publish(n.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish alert %s: timed out after %s", a.ID, publishTimeout)
	}
	return token.Error()
}

// HandleAlertActionMessage applies an acknowledge, resolve or dismiss decision
// received on the action topic.
func (p *ReadingProcessor) HandleAlertActionMessage(payload []byte) {
	var msg models.AlertActionPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.logger.Warn("Error unmarshalling alert action", zap.Error(err), zap.ByteString("raw", payload))
		return
	}
	if msg.AlertID == "" {
		return
	}
	if _, err := p.ApplyAlertAction(context.Background(), msg); err != nil {
		p.logger.Warn("Alert action rejected",
			zap.String("alert_id", msg.AlertID),
			zap.String("action", msg.Action),
			zap.Error(err))
	}
}

func NewMessageHandler(cfg *config.Config, processor *ReadingProcessor, logger *zap.Logger) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		logger.Debug("Received MQTT message", zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()))

		switch msg.Topic() {
		case cfg.MQTTActionTopic:
			processor.HandleAlertActionMessage(msg.Payload())
		default:
			logger.Warn("Unknown topic", zap.String("topic", msg.Topic()))
		}
	}
}

func InitializeMQTT(cfg *config.Config, processor *ReadingProcessor, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(NewMessageHandler(cfg, processor, logger))
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		subscribeToTopics(client, []string{cfg.MQTTActionTopic}, logger)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func subscribeToTopics(client mqtt.Client, topics []string, logger *zap.Logger) {
	for _, topic := range topics {
		token := client.Subscribe(topic, 1, nil)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(err))
			continue
		}
		logger.Info("Subscribed to topic", zap.String("topic", topic))
	}
}
