package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"UProject/logger"
	"UProject/tools/errs"
)

func logWarn(msg string, err error) {
	logger.Log.Warn(msg, zap.Error(err))
}

// response is the uniform JSON envelope for every operation.
type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Code: 0, Data: data})
}

func fail(c *gin.Context, err error) {
	code := errs.Code(err)
	c.JSON(httpStatus(code), response{Code: code, Msg: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response{Code: http.StatusBadRequest, Msg: err.Error()})
}

// httpStatus maps business error codes onto transport status. The business
// code in the body is what clients branch on; the status only routes
// generic middleware (retries, dashboards).
func httpStatus(code int) int {
	switch code {
	case errs.CodeChatNotFound, errs.CodeMessageNotFound, errs.CodeThreadNotFound,
		errs.CodeInitiatorNotFound, errs.CodeTargetUserNotFound:
		return http.StatusNotFound
	case errs.CodeInitiatorNotAuthorized, errs.CodeInitiatorSuspended,
		errs.CodeInitiatorLapsed, errs.CodeInitiatorBlocked,
		errs.CodeInitiatorNotInChat, errs.CodeInitiatorNotInCommunity,
		errs.CodeBotNotPermitted:
		return http.StatusForbidden
	case errs.CodeChatFrozen, errs.CodeCommunityFrozen,
		errs.CodeMessageIdAlreadyExists, errs.CodeMemberLimitReached:
		return http.StatusConflict
	case errs.CodeServerInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
