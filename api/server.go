// Package api is the unit's inbound surface: named update and query
// operations over gin, plus the cross-unit request handlers on NATS.
// Every update runs inside the runtime's pre/post bracket; queries read a
// consistent snapshot and leave no trace.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"UProject/middleware/security"
	"UProject/module/chat/core"
	"UProject/module/chat/model"
	"UProject/module/chat/stable"
	"UProject/module/unit"
	"UProject/tools/errs"
	"UProject/tools/ids"
)

// Pusher hands notifications to the fan-out broker. The Kafka producer
// satisfies it; tests substitute a capture.
type Pusher interface {
	PushUserNotification(n *model.Notification) error
	PushBotNotification(n *model.BotNotification) error
}

// PayloadStore is the read half of the event write-behind. stable.Store
// satisfies it; nil disables the raw payload lookup.
type PayloadStore interface {
	GetEvent(ctx context.Context, key string) ([]byte, error)
}

// Server binds the runtime to the HTTP surface.
type Server struct {
	RT     *unit.RuntimeState
	Pusher Pusher

	// Payloads serves the platform-only stable_event lookup when set.
	Payloads PayloadStore
}

func NewServer(rt *unit.RuntimeState, pusher Pusher) *Server {
	return &Server{RT: rt, Pusher: pusher}
}

// Register attaches every operation under /v1. Updates and queries are
// separate trees so generic middleware can tell them apart.
func (s *Server) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	u := v1.Group("/update")
	u.POST("/create_chat", s.createChat)
	u.POST("/send_message", s.sendMessage)
	u.POST("/add_members", s.addMembers)
	u.POST("/leave", s.leave)
	u.POST("/remove_member", s.removeMember)
	u.POST("/change_role", s.changeRole)
	u.POST("/set_events_ttl", s.setEventsTTL)
	u.POST("/update_gate", s.updateGate)
	u.POST("/install_bot", s.installBot)
	u.POST("/update_bot", s.updateBot)
	u.POST("/uninstall_bot", s.uninstallBot)
	u.POST("/register_webhook", s.registerWebhook)
	u.POST("/freeze", s.freeze)
	u.POST("/unfreeze", s.unfreeze)

	q := v1.Group("/query")
	q.POST("/events_window", s.eventsWindow)
	q.POST("/events_by_index", s.eventsByIndex)
	q.GET("/summary", s.summary)
	q.GET("/metrics", s.metrics)
	q.GET("/stable_event", s.stableEvent)
}

// callerTag is the optional caller qualification a request may carry. An
// agent tag is only honored when the authenticated principal is the acting
// bot itself; a webhook tag is verified against the chat's registered
// webhook identities. Anything else is an escalation attempt.
type callerTag struct {
	Agent   *core.AgentTag `json:"agent,omitempty"`
	Webhook bool           `json:"webhook,omitempty"`
}

func externalCaller(c *gin.Context, tag callerTag) (core.ExternalCaller, error) {
	principal := security.Principal(c)
	if tag.Agent != nil {
		if tag.Agent.BotID != principal {
			return core.ExternalCaller{}, errs.ErrInitiatorNotAuthorized.WrapMsg("agent tag does not match principal")
		}
		return core.ExternalCaller{Principal: principal, Agent: tag.Agent}, nil
	}
	return core.ExternalCaller{Principal: principal, Webhook: tag.Webhook}, nil
}

// fanOut enqueues an update's delivery obligations: bot notifications to
// the broker, mention pushes to the recipients' user units, an activity
// marker to the local index. Queues are flushed by the update bracket.
func (s *Server) fanOut(rt *unit.RuntimeState, chatID model.ChatID, bot *model.BotNotification, mentioned []model.UserID, actor model.UserID) {
	now := rt.Env.Now()
	if bot != nil && s.Pusher != nil {
		if err := s.Pusher.PushBotNotification(bot); err != nil {
			logWarn("bot notification push failed", err)
		}
	}
	if rt.UserSync != nil {
		for _, userID := range mentioned {
			if userID == actor {
				continue
			}
			n := model.Notification{Sender: actor, Recipients: []model.UserID{userID}}
			env, err := model.NewEnvelope(now, ids.RandomU64(), model.EnvelopeKindNotification, n)
			if err != nil {
				continue
			}
			rt.UserSync.Push(model.UnitID(userID), env)
		}
	}
	if rt.IndexSync != nil {
		marker := model.ActivityMarker{UserID: actor, ChatID: chatID, At: now}
		if env, err := model.NewEnvelope(now, ids.RandomU64(), model.EnvelopeKindActivityMarker, marker); err == nil {
			rt.IndexSync.Push(env)
		}
	}
}

// persistMessage write-behinds the accepted payload under its stable key.
// The log in memory is authoritative; a failed write costs a replayable
// copy, never the event.
func (s *Server) persistMessage(rt *unit.RuntimeState, chatID model.ChatID, index model.EventIndex, msg *model.MessageEvent) {
	if rt.Collab.PersistEvent == nil {
		return
	}
	raw, err := model.EncodePayload(msg)
	if err != nil {
		logWarn("message payload encode failed", err)
		return
	}
	rt.Collab.PersistEvent(stable.EventKey(chatID, msg.ThreadRoot, index), raw)
}
