package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/validator"
)

// GradingHandler exposes the grading coordinator to the professor.
type GradingHandler struct {
	gradingService *service.GradingService
	roomService    *service.RoomService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradingService *service.GradingService, roomService *service.RoomService) *GradingHandler {
	return &GradingHandler{gradingService: gradingService, roomService: roomService}
}

func (h *GradingHandler) ownedRoom(c *gin.Context) (string, bool) {
	claims := middleware.GetClaims(c)
	roomID := c.Param("room_id")

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return "", false
	}
	if room.ProfessorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotRoomOwner)
		return "", false
	}
	return roomID, true
}

// ListFinished godoc
// GET /api/v1/professor/rooms/:room_id/finishers
func (h *GradingHandler) ListFinished(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	markers, err := h.gradingService.ListFinished(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, markers)
}

// Open godoc
// GET /api/v1/professor/rooms/:room_id/finishers/:student_id
// Reconstructs the per-question grading view for one submission.
func (h *GradingHandler) Open(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	view, err := h.gradingService.OpenForGrading(c.Request.Context(), roomID, c.Param("student_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

type scoreObjectiveRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

// ScoreObjective godoc
// POST /api/v1/professor/rooms/:room_id/finishers/:student_id/score-objective
func (h *GradingHandler) ScoreObjective(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	var req scoreObjectiveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.gradingService.ScoreObjective(c.Request.Context(), roomID, c.Param("student_id"), req.QuestionID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, sub)
}

type scoreDiscursiveRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Score      string `json:"score" binding:"required"`
	Comment    string `json:"comment"`
}

// ScoreDiscursive godoc
// POST /api/v1/professor/rooms/:room_id/finishers/:student_id/score-discursive
// Professor-entered score; invalid input counts as zero.
func (h *GradingHandler) ScoreDiscursive(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	var req scoreDiscursiveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.gradingService.ScoreDiscursiveManual(c.Request.Context(), roomID, c.Param("student_id"), req.QuestionID, req.Score, req.Comment)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, sub)
}

// ScoreWithAI godoc
// POST /api/v1/professor/rooms/:room_id/finishers/:student_id/score-ai
// Sends every discursive answer to the external grader in one batch. A
// partial batch saves whatever came back.
func (h *GradingHandler) ScoreWithAI(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	sub, err := h.gradingService.ScoreDiscursiveAI(c.Request.Context(), roomID, c.Param("student_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, sub)
}
