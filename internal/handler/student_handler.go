package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
)

// StudentHandler serves the student's own history.
type StudentHandler struct {
	sessionService *service.ExamSessionService
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(sessionService *service.ExamSessionService) *StudentHandler {
	return &StudentHandler{sessionService: sessionService}
}

// History godoc
// GET /api/v1/student/submissions
func (h *StudentHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)

	subs, err := h.sessionService.ListStudentSubmissions(c.Request.Context(), claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, subs)
}

// Submission godoc
// GET /api/v1/student/submissions/:submission_id
func (h *StudentHandler) Submission(c *gin.Context) {
	claims := middleware.GetClaims(c)

	sub, err := h.sessionService.GetSubmission(c.Request.Context(), c.Param("submission_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	if sub.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	response.Success(c, http.StatusOK, sub)
}
