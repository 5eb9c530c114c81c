package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"meeting-live/internal/apperr"

	"github.com/gin-gonic/gin"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code"} with the status for its kind.
// Wrapped causes are logged, not returned.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = &apperr.Error{Kind: apperr.KindInternal, Code: apperr.CodePersistenceFailure, Message: "internal error", Err: err}
	}
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUnavailable {
		log.Printf("request failed method=%s path=%s code=%s error=%v", c.Request.Method, c.FullPath(), appErr.Code, err)
	}
	c.JSON(statusFor(appErr.Kind), gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}

// requireSession answers 404 when the meeting does not exist.
func (s *Server) requireSession(c *gin.Context, sessionID uint) bool {
	if s.sessions == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.PersistTimeout())
	defer cancel()
	ok, err := s.sessions.Exists(ctx, sessionID)
	if err != nil {
		writeError(c, apperr.Persistence("check session", err))
		return false
	}
	if !ok {
		writeError(c, apperr.NotFound(apperr.CodeSessionNotFound, "session not found"))
		return false
	}
	return true
}
