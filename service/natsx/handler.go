package natsx

import "context"

// Standard headers on cross-unit messages.
const (
	HeaderMsgID      = "Nats-Msg-Id"
	HeaderSourceUnit = "X-Source-Unit"
	// HeaderRejectCode carries the destination's machine-checkable reject
	// classification on replies; absent means accepted.
	HeaderRejectCode = "X-Reject-Code"
)

// Message is the transport-neutral message object handed to handlers.
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler processes one inbound message. A non-nil error NAKs the message
// on acknowledged transports.
type Handler func(ctx context.Context, msg Message) error

// Middleware wraps handlers (logging, idempotency, recovery).
type Middleware func(Handler) Handler

// Chain applies middlewares outermost-first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
