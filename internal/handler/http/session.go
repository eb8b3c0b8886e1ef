package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"codehive/internal/service"
)

// SessionHandler exposes the HTTP session gateway: creating a session and
// verifying its join secret. Everything after admission happens over the
// websocket.
type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	if sessions == nil {
		panic("SessionService cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessions: sessions}
}

type CreateSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Password  string `json:"password" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
}

type CreateSessionResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// CreateSession registers a new session id with a join secret. The caller
// becomes the session owner; the id must be unused.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateSession: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: sessionId, password and userId are required")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": req.SessionID, "user_id": req.UserID})

	if err := h.sessions.Create(c.Request.Context(), req.SessionID, req.Password, req.UserID); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateSession: Failed to create session")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.CreateSession: Session created")
	SuccessResponse(c, http.StatusCreated, CreateSessionResponse{
		Message:   "Session created successfully",
		SessionID: req.SessionID,
	})
}

type VerifySessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

// VerifySession checks a join secret before the client opens a websocket.
// An unknown session id is 404, a wrong secret 401 and a match 200. The
// response body never distinguishes which part of the secret failed.
func (h *SessionHandler) VerifySession(c *gin.Context) {
	var req VerifySessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.VerifySession: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: sessionId and password are required")
		return
	}
	logCtx := logrus.WithField("session_id", req.SessionID)

	exists, err := h.sessions.Exists(c.Request.Context(), req.SessionID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.VerifySession: Existence check failed")
		HandleServiceError(c, err)
		return
	}
	if !exists {
		ErrorResponse(c, http.StatusNotFound, "Session not found")
		return
	}

	valid, err := h.sessions.Verify(c.Request.Context(), req.SessionID, req.Password)
	if err != nil {
		logCtx.WithError(err).Error("Handler.VerifySession: Verification failed")
		HandleServiceError(c, err)
		return
	}
	if !valid {
		logCtx.Warn("Handler.VerifySession: Invalid password")
		ErrorResponse(c, http.StatusUnauthorized, "Invalid password")
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{"message": "Session verified", "sessionId": req.SessionID})
}
