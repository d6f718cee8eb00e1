package api

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"UProject/middleware/security"
	"UProject/module/chat/core"
	"UProject/module/chat/events"
	"UProject/module/chat/model"
	"UProject/module/chat/stable"
	"UProject/module/unit"
	"UProject/tools/errs"
)

// eventView is one event in a query response: the wrapper fields plus the
// kind-tagged payload.
type eventView struct {
	Index     model.EventIndex      `json:"index"`
	Timestamp model.TimestampMillis `json:"timestamp"`
	ExpiresAt model.TimestampMillis `json:"expiresAt,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
}

type eventsResponse struct {
	Events        []eventView          `json:"events"`
	ExpiredRanges []model.ExpiredRange `json:"expiredRanges,omitempty"`
}

func toViews(wrapped []*model.EventWrapper) []eventView {
	out := make([]eventView, 0, len(wrapped))
	for _, e := range wrapped {
		v := eventView{Index: e.Index, Timestamp: e.Timestamp, ExpiresAt: e.ExpiresAt}
		if e.Payload != nil {
			if raw, err := model.EncodePayload(e.Payload); err == nil {
				v.Payload = raw
			}
		}
		out = append(out, v)
	}
	return out
}

// withReader resolves the caller's visibility-floored read view and runs f
// against it inside the query snapshot.
func (s *Server) withReader(c *gin.Context, chatID model.ChatID, tag callerTag, f func(r *events.Reader) error) error {
	ext, err := externalCaller(c, tag)
	if err != nil {
		return err
	}
	return s.RT.ExecuteQuery(func(rt *unit.RuntimeState) error {
		chat, found := rt.Data.Chat(chatID)
		if !found {
			return errs.ErrChatNotFound
		}
		caller, vErr := chat.VerifiedCaller(ext)
		if vErr != nil {
			return vErr
		}
		reader, rErr := chat.EventsReader(caller, rt.Env.Now())
		if rErr != nil {
			return rErr
		}
		return f(reader)
	})
}

type eventsWindowRequest struct {
	ChatID model.ChatID     `json:"chatId" binding:"required"`
	Start  model.EventIndex `json:"start"`
	Max    int              `json:"max"`
	Caller callerTag        `json:"caller"`
}

func (s *Server) eventsWindow(c *gin.Context) {
	var req eventsWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Max <= 0 || req.Max > 200 {
		req.Max = 200
	}
	var resp eventsResponse
	err := s.withReader(c, req.ChatID, req.Caller, func(r *events.Reader) error {
		wrapped, expired := r.Window(req.Start, req.Max)
		resp = eventsResponse{Events: toViews(wrapped), ExpiredRanges: expired}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, resp)
}

type eventsByIndexRequest struct {
	ChatID  model.ChatID       `json:"chatId" binding:"required"`
	Indexes []model.EventIndex `json:"indexes" binding:"required"`
	Caller  callerTag          `json:"caller"`
}

func (s *Server) eventsByIndex(c *gin.Context) {
	var req eventsByIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var resp eventsResponse
	err := s.withReader(c, req.ChatID, req.Caller, func(r *events.Reader) error {
		wrapped, expired := r.EventsByIndex(req.Indexes)
		resp = eventsResponse{Events: toViews(wrapped), ExpiredRanges: expired}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, resp)
}

func (s *Server) summary(c *gin.Context) {
	chatID := model.ChatID(c.Query("chatId"))
	if chatID == "" {
		fail(c, errs.ErrChatNotFound)
		return
	}
	ext := core.ExternalCaller{Principal: security.Principal(c)}
	var sum core.Summary
	err := s.RT.ExecuteQuery(func(rt *unit.RuntimeState) error {
		chat, found := rt.Data.Chat(chatID)
		if !found {
			return errs.ErrChatNotFound
		}
		if _, vErr := chat.VerifiedCaller(ext); vErr != nil {
			return vErr
		}
		sum = chat.Summarize()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sum)
}

// metrics is unauthenticated on purpose: it carries counts, not content.
func (s *Server) metrics(c *gin.Context) {
	ok(c, s.RT.MetricsSnapshot())
}

// stableEvent serves the raw write-behind copy of one event straight from
// stable storage. Support tooling only: restricted to the system principal
// and bypasses the in-memory log entirely.
func (s *Server) stableEvent(c *gin.Context) {
	if security.Principal(c) != core.SystemPrincipal {
		fail(c, errs.ErrInitiatorNotAuthorized.WrapMsg("platform operation"))
		return
	}
	if s.Payloads == nil {
		fail(c, errs.ErrMessageNotFound.WrapMsg("no payload store configured"))
		return
	}
	chatID := model.ChatID(c.Query("chatId"))
	index, err := strconv.ParseUint(c.Query("index"), 10, 64)
	if chatID == "" || err != nil || index == 0 {
		badRequest(c, errors.New("chatId and index are required"))
		return
	}
	root, _ := strconv.ParseUint(c.Query("threadRoot"), 10, 64)

	key := stable.EventKey(chatID, model.EventIndex(root), model.EventIndex(index))
	data, err := s.Payloads.GetEvent(c.Request.Context(), key)
	if err != nil {
		fail(c, errs.ErrServerInternal.WrapMsg(err.Error()))
		return
	}
	if data == nil {
		fail(c, errs.ErrMessageNotFound)
		return
	}
	ok(c, gin.H{"key": key, "payload": json.RawMessage(data)})
}
