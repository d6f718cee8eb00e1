package api

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/core"
	"UProject/module/chat/model"
	"UProject/module/unit"
	"UProject/service/idem"
	"UProject/service/natsx"
	"UProject/tools/errs"
)

// RequestSubscriber is the slice of natsx.Manager the inbound c2c surface
// needs.
type RequestSubscriber interface {
	SubscribeRequests(subject, queue string, h func(ctx context.Context, msg natsx.Message) natsx.Reply) error
}

// C2C serves this unit's cross-unit operations. Batches arrive as
// idempotent envelopes: each envelope's id is checked against the recently
// seen set before it is applied, so at-least-once delivery converges to
// exactly-once effects.
type C2C struct {
	rt      *unit.RuntimeState
	checker idem.Checker
	window  time.Duration
	pusher  Pusher
	self    model.UnitID
}

func NewC2C(rt *unit.RuntimeState, checker idem.Checker, window time.Duration, pusher Pusher, self model.UnitID) *C2C {
	if window <= 0 {
		window = time.Hour
	}
	return &C2C{rt: rt, checker: checker, window: window, pusher: pusher, self: self}
}

// Register subscribes the unit's c2c subjects with a shared queue group.
func (s *C2C) Register(sub RequestSubscriber) error {
	if err := sub.SubscribeRequests(natsx.UnitSubject(s.self, natsx.OpNotifyEvents), "c2c", s.handleBatch("")); err != nil {
		return err
	}
	return sub.SubscribeRequests(natsx.UnitSubject(s.self, natsx.OpMemberSync), "c2c", s.handleBatch(model.EnvelopeKindMemberSync))
}

type batchResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// handleBatch builds the handler for one c2c subject. A non-empty
// expectedKind restricts which envelope kinds the subject accepts.
func (s *C2C) handleBatch(expectedKind string) func(ctx context.Context, msg natsx.Message) natsx.Reply {
	return func(ctx context.Context, msg natsx.Message) natsx.Reply {
		var batch []model.IdempotentEnvelope
		if err := json.Unmarshal(msg.Data, &batch); err != nil || len(batch) == 0 {
			return natsx.Reply{RejectCode: natsx.RejectBadRequest}
		}
		source := msg.Header[natsx.HeaderSourceUnit]

		var result batchResult
		var rejectCode int
		err := s.rt.ExecuteUpdate(func(rt *unit.RuntimeState) error {
			for _, env := range batch {
				if expectedKind != "" && env.Kind != expectedKind {
					rejectCode = natsx.RejectBadRequest
					return errs.ErrContentValidation.WrapMsg("unexpected envelope kind", "kind", env.Kind)
				}
				seen, idemErr := s.checker.SeenOnce(ctx, "c2c:"+source, env.IdempotencyID, s.window)
				if idemErr != nil {
					// Fail open: a duplicate apply is recoverable, a
					// dropped event is not.
					logger.Log.Warn("idempotency check failed", zap.Error(idemErr))
				}
				if seen {
					result.Skipped++
					continue
				}
				if applyErr := s.applyEnvelope(rt, env); applyErr != nil {
					// Release the id recorded above: it only stays seen
					// when its effect landed, otherwise the sender's
					// retry would be skipped and the effect lost.
					if fErr := s.checker.Forget(ctx, "c2c:"+source, env.IdempotencyID); fErr != nil {
						logger.Log.Warn("idempotency rollback failed", zap.Error(fErr))
					}
					rejectCode = rejectFor(applyErr)
					return applyErr
				}
				result.Applied++
			}
			return nil
		})
		if err != nil {
			logger.Log.Warn("c2c batch rejected",
				zap.String("source", source), zap.Int("code", rejectCode), zap.Error(err))
			return natsx.Reply{RejectCode: rejectCode}
		}
		if result.Applied == 0 && result.Skipped > 0 {
			return natsx.Reply{RejectCode: natsx.RejectAlreadyApplied}
		}
		data, _ := json.Marshal(result)
		return natsx.Reply{Data: data}
	}
}

// applyEnvelope dispatches one deduplicated envelope. Unknown kinds are
// accepted and dropped so a newer sender does not wedge an older unit.
func (s *C2C) applyEnvelope(rt *unit.RuntimeState, env model.IdempotentEnvelope) error {
	switch env.Kind {
	case model.EnvelopeKindNotification:
		var n model.Notification
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return errs.ErrContentValidation.WrapMsg("bad notification payload")
		}
		if s.pusher != nil {
			if err := s.pusher.PushUserNotification(&n); err != nil {
				logWarn("user notification push failed", err)
			}
		}
		return nil

	case model.EnvelopeKindBotNotification:
		var n model.BotNotification
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return errs.ErrContentValidation.WrapMsg("bad bot notification payload")
		}
		if s.pusher != nil {
			if err := s.pusher.PushBotNotification(&n); err != nil {
				logWarn("bot notification push failed", err)
			}
		}
		return nil

	case model.EnvelopeKindMemberSync:
		var cmd model.MemberSyncCommand
		if err := json.Unmarshal(env.Value, &cmd); err != nil {
			return errs.ErrContentValidation.WrapMsg("bad member sync payload")
		}
		return s.applyMemberSync(rt, cmd)

	default:
		logger.Log.Debug("unknown envelope kind dropped", zap.String("kind", env.Kind))
		return nil
	}
}

// applyMemberSync mirrors a membership decision under the system principal.
func (s *C2C) applyMemberSync(rt *unit.RuntimeState, cmd model.MemberSyncCommand) error {
	chat, found := rt.Data.Chat(cmd.ChatID)
	if !found {
		return errs.ErrChatNotFound
	}
	caller, err := chat.VerifiedCaller(core.ExternalCaller{Principal: core.SystemPrincipal})
	if err != nil {
		return err
	}
	now := rt.Env.Now()
	if len(cmd.Add) > 0 {
		if _, err := chat.AddMembers(caller, cmd.Add, now); err != nil {
			return err
		}
	}
	for _, target := range cmd.Remove {
		err := chat.RemoveMember(caller, target, false, now)
		if err != nil && errs.Code(err) != errs.CodeTargetUserNotFound {
			return err
		}
	}
	return nil
}

// rejectFor classifies an apply error for the reply: unknown destinations
// are terminal, malformed content is terminal, everything else is worth a
// retry from the sender.
func rejectFor(err error) int {
	switch errs.Code(err) {
	case errs.CodeChatNotFound:
		return natsx.RejectUnitNotFound
	case errs.CodeContentValidationError:
		return natsx.RejectBadRequest
	default:
		return natsx.RejectOverloaded
	}
}
