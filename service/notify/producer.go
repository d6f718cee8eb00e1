// Package notify publishes notification fan-out to the pusher service's
// Kafka topics. The pusher itself (device tokens, APNS/FCM) is a separate
// system; this side only guarantees the records land on the topic.
package notify

import (
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/model"
)

const (
	TopicUserNotifications = "unit_user_notifications"
	TopicBotNotifications  = "unit_bot_notifications"
)

type Producer struct {
	producer sarama.SyncProducer
	unitID   model.UnitID
}

// NewProducer connects a sync producer and makes sure the topics exist.
func NewProducer(brokers []string, unitID model.UnitID) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	if err := ensureTopics(brokers, cfg, TopicUserNotifications, TopicBotNotifications); err != nil {
		return nil, err
	}

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "notify: new producer")
	}
	return &Producer{producer: p, unitID: unitID}, nil
}

func ensureTopics(brokers []string, cfg *sarama.Config, topics ...string) error {
	admin, err := sarama.NewClusterAdmin(brokers, cfg)
	if err != nil {
		return errors.Wrap(err, "notify: cluster admin")
	}
	defer func() { _ = admin.Close() }()

	existing, err := admin.ListTopics()
	if err != nil {
		return errors.Wrap(err, "notify: list topics")
	}
	for _, topic := range topics {
		if _, ok := existing[topic]; ok {
			continue
		}
		err := admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 3, ReplicationFactor: 1}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return errors.Wrapf(err, "notify: create topic %s", topic)
		}
	}
	return nil
}

// PushUserNotification publishes one user notification, keyed by the unit
// id so one unit's notifications stay ordered on a partition.
func (p *Producer) PushUserNotification(n *model.Notification) error {
	return p.push(TopicUserNotifications, n)
}

// PushBotNotification publishes one bot fan-out record.
func (p *Producer) PushBotNotification(n *model.BotNotification) error {
	return p.push(TopicBotNotifications, n)
}

func (p *Producer) push(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "notify: marshal")
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(p.unitID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		logger.Log.Warn("notification publish failed",
			zap.String("topic", topic), zap.Error(err))
		return errors.Wrap(err, "notify: send")
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
