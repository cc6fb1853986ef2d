package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/skolastik/skolastik-backend/internal/middleware"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/response"
	"github.com/skolastik/skolastik-backend/internal/service"
	"github.com/skolastik/skolastik-backend/internal/validator"
)

// ResultHandler exposes proctor controls (pause, results, manual
// grading) and the student's grade-notification acknowledgement.
type ResultHandler struct {
	sessionService *service.SessionService
	resultService  *service.ResultService
	bcryptCost     int
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(sessionService *service.SessionService, resultService *service.ResultService, bcryptCost int) *ResultHandler {
	return &ResultHandler{
		sessionService: sessionService,
		resultService:  resultService,
		bcryptCost:     bcryptCost,
	}
}

// Pause handles POST /proctor/sessions/:session_id/pause
//
// The plain resume code appears only in this response. It is handed to
// the student out of band; the server keeps just the hash.
func (h *ResultHandler) Pause(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	code, err := h.sessionService.Pause(c.Request.Context(), sessionID, h.bcryptCost)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"pause_code": code})
}

// ListResults handles GET /proctor/exams/:exam_id/results
func (h *ResultHandler) ListResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	var studentID *int
	if v := c.Query("student_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		studentID = &id
	}

	results, total, err := h.sessionService.ListResults(c.Request.Context(), examID, studentID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}
	response.SuccessWithPagination(c, http.StatusOK, results, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// ManualGrade handles PATCH /proctor/results/:result_id/grade
func (h *ResultHandler) ManualGrade(c *gin.Context) {
	claims := middleware.GetClaims(c)

	resultID, err := uuid.Parse(c.Param("result_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.resultService.ApplyManualGrade(c.Request.Context(), resultID, &req, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrResultNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// AcknowledgeNotification handles POST /student/results/:result_id/notified
//
// The client calls this after showing the grade dialog once, so a page
// reload never re-triggers it.
func (h *ResultHandler) AcknowledgeNotification(c *gin.Context) {
	claims := middleware.GetClaims(c)

	resultID, err := uuid.Parse(c.Param("result_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.resultService.AcknowledgeNotification(c.Request.Context(), resultID, claims.UserID); err != nil {
		if errors.Is(err, service.ErrResultNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}
