package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/skolastik/skolastik-backend/internal/middleware"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/response"
	"github.com/skolastik/skolastik-backend/internal/service"
	"github.com/skolastik/skolastik-backend/internal/timeauth"
	"github.com/skolastik/skolastik-backend/internal/validator"
)

// SessionHandler exposes the student-facing attempt lifecycle over REST.
// The live channel (autosave, submit, deadline push) is the WebSocket;
// these endpoints cover starting, redisplay and pause recovery.
type SessionHandler struct {
	sessionService *service.SessionService
	examService    *service.ExamService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, examService *service.ExamService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		examService:    examService,
	}
}

// Start handles POST /student/exams/:exam_id/sessions
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessionService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sess)
}

// resumeResponse wraps the two possible outcomes of a resume: a live
// session state, or the result of an attempt that expired while away.
type resumeResponse struct {
	State  *model.SessionState `json:"state,omitempty"`
	Result *model.ExamResult   `json:"result,omitempty"`
}

// Resume handles GET /student/exams/:exam_id/session
func (h *SessionHandler) Resume(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, result, err := h.sessionService.Resume(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resumeResponse{State: state, Result: result})
}

// Paper handles GET /student/sessions/:session_id/paper
//
// Returns the redacted exam payload in this session's persisted
// ordering. Safe to call any number of times: the arrangement never
// changes for the life of the attempt.
func (h *SessionHandler) Paper(c *gin.Context) {
	claims := middleware.GetClaims(c)

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessionService.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}
	if sess.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	payload, err := h.examService.GetExamPayload(c.Request.Context(), sess.ExamID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, service.PayloadForSession(payload, sess))
}

type resumeCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// ResumeWithCode handles POST /student/sessions/:session_id/resume
//
// Presents the proctor's one-time code to lift a pause. On success the
// expiry has shifted by the paused duration and the session is live again.
func (h *SessionHandler) ResumeWithCode(c *gin.Context) {
	claims := middleware.GetClaims(c)

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req resumeCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		failSessionError(c, err)
		return
	}
	if sess.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	resumed, err := h.sessionService.ResumeWithCode(c.Request.Context(), sessionID, req.Code)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resumed)
}

// failSessionError maps session domain errors onto the response envelope.
func failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionAlreadyActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionAlreadyActive)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrInvalidPauseCode):
		response.Fail(c, http.StatusForbidden, response.ErrInvalidPauseCode)
	case errors.Is(err, service.ErrRetakeNotAllowed):
		response.Fail(c, http.StatusForbidden, response.ErrRetakeNotAllowed)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, timeauth.ErrClockUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrClockUnavailable)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
