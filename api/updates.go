package api

import (
	"github.com/gin-gonic/gin"

	"UProject/middleware/security"
	"UProject/module/chat/core"
	"UProject/module/chat/model"
	"UProject/module/unit"
	"UProject/tools/errs"
)

// withChat runs f inside the update bracket against a verified caller.
// Every member-facing update goes through here; it owns the repeated
// chat-lookup and caller-verification steps.
func (s *Server) withChat(c *gin.Context, chatID model.ChatID, tag callerTag, f func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error) error {
	ext, err := externalCaller(c, tag)
	if err != nil {
		return err
	}
	return s.RT.ExecuteUpdate(func(rt *unit.RuntimeState) error {
		chat, found := rt.Data.Chat(chatID)
		if !found {
			return errs.ErrChatNotFound
		}
		caller, vErr := chat.VerifiedCaller(ext)
		if vErr != nil {
			return vErr
		}
		return f(rt, chat, caller)
	})
}

type createChatRequest struct {
	ChatID         model.ChatID          `json:"chatId" binding:"required"`
	Name           string                `json:"name" binding:"required"`
	IsPublic       bool                  `json:"isPublic"`
	HistoryVisible bool                  `json:"historyVisible"`
	EventsTTL      model.TimestampMillis `json:"eventsTtl"`
}

func (s *Server) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	creator := security.Principal(c)
	err := s.RT.ExecuteUpdate(func(rt *unit.RuntimeState) error {
		if _, exists := rt.Data.Chat(req.ChatID); exists {
			return errs.ErrMessageIdAlreadyExists.WrapMsg("chat already exists", "chat", string(req.ChatID))
		}
		rt.Data.Chats[req.ChatID] = core.NewGroupChatCore(
			req.ChatID, req.Name, req.IsPublic, req.HistoryVisible,
			creator, model.UserTypeHuman, req.EventsTTL, rt.Env.Now(),
		)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"chatId": req.ChatID})
}

type sendMessageRequest struct {
	ChatID     model.ChatID         `json:"chatId" binding:"required"`
	MessageID  model.MessageID      `json:"messageId" binding:"required"`
	Content    model.MessageContent `json:"content"`
	ThreadRoot model.EventIndex     `json:"threadRoot,omitempty"`
	Mentioned  []model.UserID       `json:"mentioned,omitempty"`
	Caller     callerTag            `json:"caller"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var result core.SendMessageResult
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		msg := &model.MessageEvent{
			MessageID:  req.MessageID,
			Content:    req.Content,
			ThreadRoot: req.ThreadRoot,
			Mentioned:  req.Mentioned,
		}
		res, sendErr := chat.SendMessage(caller, msg, rt.Env.Now())
		if sendErr != nil {
			return sendErr
		}
		result = res
		s.persistMessage(rt, req.ChatID, res.Index, msg)
		s.fanOut(rt, req.ChatID, res.BotNotification, req.Mentioned, caller.UserID)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"eventIndex": result.Index,
		"timestamp":  result.Timestamp,
		"expiresAt":  result.ExpiresAt,
	})
}

type addMembersRequest struct {
	ChatID  model.ChatID   `json:"chatId" binding:"required"`
	UserIDs []model.UserID `json:"userIds" binding:"required"`
	Caller  callerTag      `json:"caller"`
}

func (s *Server) addMembers(c *gin.Context) {
	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var result core.AddMembersResult
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		res, addErr := chat.AddMembers(caller, req.UserIDs, rt.Env.Now())
		if addErr != nil {
			return addErr
		}
		result = res
		s.fanOut(rt, req.ChatID, res.BotNotification, nil, caller.UserID)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"added":     result.Added,
		"alreadyIn": result.AlreadyIn,
		"blocked":   result.Blocked,
	})
}

type chatOnlyRequest struct {
	ChatID model.ChatID `json:"chatId" binding:"required"`
	Caller callerTag    `json:"caller"`
}

func (s *Server) leave(c *gin.Context) {
	var req chatOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.Leave(caller, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type removeMemberRequest struct {
	ChatID model.ChatID `json:"chatId" binding:"required"`
	Target model.UserID `json:"target" binding:"required"`
	Block  bool         `json:"block"`
	Caller callerTag    `json:"caller"`
}

func (s *Server) removeMember(c *gin.Context) {
	var req removeMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.RemoveMember(caller, req.Target, req.Block, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type changeRoleRequest struct {
	ChatID  model.ChatID `json:"chatId" binding:"required"`
	Target  model.UserID `json:"target" binding:"required"`
	NewRole model.Role   `json:"newRole"`
	Caller  callerTag    `json:"caller"`
}

func (s *Server) changeRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.ChangeRole(caller, req.Target, req.NewRole, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type setEventsTTLRequest struct {
	ChatID model.ChatID          `json:"chatId" binding:"required"`
	TTL    model.TimestampMillis `json:"ttl"`
	Caller callerTag             `json:"caller"`
}

func (s *Server) setEventsTTL(c *gin.Context) {
	var req setEventsTTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.SetEventsTTL(caller, req.TTL, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type updateGateRequest struct {
	ChatID model.ChatID            `json:"chatId" binding:"required"`
	Gate   *model.AccessGateConfig `json:"gate"`
	Caller callerTag               `json:"caller"`
}

func (s *Server) updateGate(c *gin.Context) {
	var req updateGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.UpdateGate(caller, req.Gate, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type installBotRequest struct {
	ChatID model.ChatID       `json:"chatId" binding:"required"`
	Bot    model.InstalledBot `json:"bot" binding:"required"`
	Caller callerTag          `json:"caller"`
}

func (s *Server) installBot(c *gin.Context) {
	var req installBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.InstallBot(caller, req.Bot, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type updateBotRequest struct {
	ChatID          model.ChatID         `json:"chatId" binding:"required"`
	BotID           model.UserID         `json:"botId" binding:"required"`
	CommandPerms    model.PermissionSet  `json:"commandPermissions"`
	AutonomousPerms *model.PermissionSet `json:"autonomousPermissions,omitempty"`
	Caller          callerTag            `json:"caller"`
}

func (s *Server) updateBot(c *gin.Context) {
	var req updateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.UpdateBot(caller, req.BotID, req.CommandPerms, req.AutonomousPerms, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type uninstallBotRequest struct {
	ChatID model.ChatID `json:"chatId" binding:"required"`
	BotID  model.UserID `json:"botId" binding:"required"`
	Caller callerTag    `json:"caller"`
}

func (s *Server) uninstallBot(c *gin.Context) {
	var req uninstallBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.UninstallBot(caller, req.BotID, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type registerWebhookRequest struct {
	ChatID    model.ChatID `json:"chatId" binding:"required"`
	WebhookID model.UserID `json:"webhookId" binding:"required"`
	Caller    callerTag    `json:"caller"`
}

func (s *Server) registerWebhook(c *gin.Context) {
	var req registerWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.withChat(c, req.ChatID, req.Caller, func(rt *unit.RuntimeState, chat *core.GroupChatCore, caller model.Caller) error {
		return chat.RegisterWebhook(caller, req.WebhookID, rt.Env.Now())
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type freezeRequest struct {
	ChatID model.ChatID `json:"chatId" binding:"required"`
	Reason string       `json:"reason,omitempty"`
}

// freeze and unfreeze are platform operations: only the system principal
// may call them, and they bypass member permission checks.
func (s *Server) freeze(c *gin.Context) {
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	principal := security.Principal(c)
	if principal != core.SystemPrincipal {
		fail(c, errs.ErrInitiatorNotAuthorized.WrapMsg("platform operation"))
		return
	}
	err := s.RT.ExecuteUpdate(func(rt *unit.RuntimeState) error {
		chat, found := rt.Data.Chat(req.ChatID)
		if !found {
			return errs.ErrChatNotFound
		}
		chat.Freeze(principal, req.Reason, rt.Env.Now())
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) unfreeze(c *gin.Context) {
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	principal := security.Principal(c)
	if principal != core.SystemPrincipal {
		fail(c, errs.ErrInitiatorNotAuthorized.WrapMsg("platform operation"))
		return
	}
	err := s.RT.ExecuteUpdate(func(rt *unit.RuntimeState) error {
		chat, found := rt.Data.Chat(req.ChatID)
		if !found {
			return errs.ErrChatNotFound
		}
		chat.Unfreeze(principal, rt.Env.Now())
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
