package natsx

import (
	"context"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Reject codes carried on replies. The sender's queue maps them to its
// retry decision; anything unlisted is treated as retriable.
const (
	RejectNone           = 0
	RejectBadRequest     = 400 // malformed batch, terminal
	RejectUnitNotFound   = 404 // destination has no such chat/unit, terminal
	RejectAlreadyApplied = 409 // idempotency id seen, success
	RejectOverloaded     = 503 // backpressure, retriable
)

// Reply is a typed cross-unit response.
type Reply struct {
	Data       []byte
	RejectCode int
}

// Rejected reports whether the destination refused the request.
func (r *Reply) Rejected() bool { return r.RejectCode != RejectNone }

// Request performs a unit-to-unit call on a raw subject and decodes the
// reject classification from the reply headers. Transport errors (no
// responders, timeout) come back as plain errors: the caller retries them.
func (c *Client) Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (*Reply, error) {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header = toHeader(hdr)

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "natsx: request %s", subject)
	}

	reply := &Reply{Data: append([]byte(nil), resp.Data...)}
	if v := resp.Header.Get(HeaderRejectCode); v != "" {
		code, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, errors.Wrapf(convErr, "natsx: bad reject code %q", v)
		}
		reply.RejectCode = code
	}
	return reply, nil
}

// SubscribeRequests attaches a request handler to a raw subject with a
// queue group. The handler's Reply is sent back to the requester.
func (c *Client) SubscribeRequests(subject, queue string, h func(ctx context.Context, msg Message) Reply) error {
	cb := func(m *nats.Msg) {
		reply := h(context.Background(), wrap(m))
		out := nats.NewMsg(m.Reply)
		out.Data = reply.Data
		if reply.RejectCode != RejectNone {
			out.Header = nats.Header{}
			out.Header.Set(HeaderRejectCode, strconv.Itoa(reply.RejectCode))
		}
		_ = m.RespondMsg(out)
	}
	sub, err := c.nc.QueueSubscribe(subject, queue, cb)
	if err != nil {
		return errors.Wrapf(err, "natsx: subscribe requests %s", subject)
	}
	c.mu.Lock()
	c.subs["req:"+subject] = sub
	c.mu.Unlock()
	return nil
}
