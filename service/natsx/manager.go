package natsx

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Manager is the single object the rest of the process talks to.
type Manager struct {
	client   *Client
	producer *Producer
	consumer *Consumer
}

func NewManager(cfg Config, middlewares ...Middleware) (*Manager, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client:   c,
		producer: NewProducer(c),
		consumer: NewConsumer(c, middlewares...),
	}, nil
}

func (m *Manager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Manager) RegisterRoute(r Route) error {
	if m == nil || m.client == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

func (m *Manager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

func (m *Manager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.producer.PublishOnce(ctx, biz, data, hdr, msgID)
}

func (m *Manager) Subscribe(biz string, h Handler) error {
	if m == nil || m.consumer == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}

func (m *Manager) PullConsume(ctx context.Context, biz string, batch int, wait time.Duration, h Handler) error {
	if m == nil || m.consumer == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.consumer.PullConsume(ctx, biz, batch, wait, h)
}

// Request is the typed unit-to-unit call; see Client.Request.
func (m *Manager) Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (*Reply, error) {
	if m == nil || m.client == nil {
		return nil, errors.New("natsx: manager not initialized")
	}
	return m.client.Request(ctx, subject, data, hdr)
}

// SubscribeRequests attaches a request/reply handler; see
// Client.SubscribeRequests.
func (m *Manager) SubscribeRequests(subject, queue string, h func(ctx context.Context, msg Message) Reply) error {
	if m == nil || m.client == nil {
		return errors.New("natsx: manager not initialized")
	}
	return m.client.SubscribeRequests(subject, queue, h)
}
