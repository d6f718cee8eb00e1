package natsx

import (
	"context"

	"github.com/pkg/errors"

	"UProject/tools/ids"
)

type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish sends by route.
func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errors.Errorf("natsx: route not found: %s", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.Subject, data, hdr)
	case JetStreamPush, JetStreamPull:
		return p.c.sendJS(ctx, r.Subject, data, hdr)
	default:
		return errors.Errorf("natsx: unsupported mode %d", r.Mode)
	}
}

// PublishOnce publishes with a Nats-Msg-Id so JetStream deduplicates
// redeliveries. An empty msgID gets a random one.
func (p *Producer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = ids.RandomHex()
	}
	hdr[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, data, hdr)
}
