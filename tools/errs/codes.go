package errs

// Error codes are grouped by concern. The set is closed per operation: a
// handler only ever returns codes documented for it, so clients can branch
// exhaustively.
const (
	CodeServerInternal = 500

	// Caller / membership
	CodeInitiatorNotInChat      = 1001
	CodeInitiatorNotInCommunity = 1002
	CodeInitiatorSuspended      = 1003
	CodeInitiatorLapsed         = 1004
	CodeInitiatorNotAuthorized  = 1005
	CodeInitiatorNotFound       = 1006
	CodeInitiatorBlocked        = 1007

	// Chat / community state preconditions
	CodeChatFrozen             = 1101
	CodeCommunityFrozen        = 1102
	CodeChatNotFound           = 1103
	CodeMessageIdAlreadyExists = 1104
	CodeMessageNotFound        = 1105
	CodeThreadNotFound         = 1106
	CodeMemberLimitReached     = 1107

	// Target preconditions
	CodeTargetUserBlocked  = 1201
	CodeTargetUserNotFound = 1202

	// Content / transfer
	CodeContentValidationError = 1301
	CodeTransferFailed         = 1302

	// Bots
	CodeBotNotInstalled = 1401
	CodeBotNotPermitted = 1402
)

var (
	ErrServerInternal = NewCodeError(CodeServerInternal, "server internal error")

	ErrInitiatorNotInChat      = NewCodeError(CodeInitiatorNotInChat, "initiator not in chat")
	ErrInitiatorNotInCommunity = NewCodeError(CodeInitiatorNotInCommunity, "initiator not in community")
	ErrInitiatorSuspended      = NewCodeError(CodeInitiatorSuspended, "initiator suspended")
	ErrInitiatorLapsed         = NewCodeError(CodeInitiatorLapsed, "initiator lapsed")
	ErrInitiatorNotAuthorized  = NewCodeError(CodeInitiatorNotAuthorized, "initiator not authorized")
	ErrInitiatorNotFound       = NewCodeError(CodeInitiatorNotFound, "initiator not found")
	ErrInitiatorBlocked        = NewCodeError(CodeInitiatorBlocked, "initiator blocked")

	ErrChatFrozen             = NewCodeError(CodeChatFrozen, "chat frozen")
	ErrCommunityFrozen        = NewCodeError(CodeCommunityFrozen, "community frozen")
	ErrChatNotFound           = NewCodeError(CodeChatNotFound, "chat not found")
	ErrMessageIdAlreadyExists = NewCodeError(CodeMessageIdAlreadyExists, "message id already exists")
	ErrMessageNotFound        = NewCodeError(CodeMessageNotFound, "message not found")
	ErrThreadNotFound         = NewCodeError(CodeThreadNotFound, "thread not found")
	ErrMemberLimitReached     = NewCodeError(CodeMemberLimitReached, "member limit reached")

	ErrTargetUserBlocked  = NewCodeError(CodeTargetUserBlocked, "target user blocked")
	ErrTargetUserNotFound = NewCodeError(CodeTargetUserNotFound, "target user not found")

	ErrContentValidation = NewCodeError(CodeContentValidationError, "content validation error")
	ErrTransferFailed    = NewCodeError(CodeTransferFailed, "transfer failed")

	ErrBotNotInstalled = NewCodeError(CodeBotNotInstalled, "bot not installed")
	ErrBotNotPermitted = NewCodeError(CodeBotNotPermitted, "bot not permitted")
)
