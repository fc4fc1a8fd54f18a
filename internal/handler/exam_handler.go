package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/ai"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/validator"
)

// ExamHandler handles professor-side exam authoring.
type ExamHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

// draftRequest updates the draft header fields.
type draftRequest struct {
	Title       *string `json:"titulo"`
	Description *string `json:"descricao"`
}

// UpdateDraft godoc
// PATCH /api/v1/professor/exams/draft
func (h *ExamHandler) UpdateDraft(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	draft := h.examService.Draft(claims.UserID)
	if req.Title != nil {
		draft.SetTitle(*req.Title)
	}
	if req.Description != nil {
		draft.SetDescription(*req.Description)
	}

	response.Success(c, http.StatusOK, draft.Snapshot())
}

// GetDraft godoc
// GET /api/v1/professor/exams/draft
func (h *ExamHandler) GetDraft(c *gin.Context) {
	claims := middleware.GetClaims(c)
	response.Success(c, http.StatusOK, h.examService.Draft(claims.UserID).Snapshot())
}

// DiscardDraft godoc
// DELETE /api/v1/professor/exams/draft
func (h *ExamHandler) DiscardDraft(c *gin.Context) {
	claims := middleware.GetClaims(c)
	h.examService.DiscardDraft(claims.UserID)
	response.Success(c, http.StatusOK, gin.H{})
}

// AddQuestion godoc
// POST /api/v1/professor/exams/draft/questions
func (h *ExamHandler) AddQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var q model.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	added := h.examService.Draft(claims.UserID).AddQuestion(q)
	response.Success(c, http.StatusCreated, added)
}

// UpdateQuestion godoc
// PUT /api/v1/professor/exams/draft/questions/:question_id
func (h *ExamHandler) UpdateQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var q model.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	q.ID = c.Param("question_id")

	if err := h.examService.Draft(claims.UserID).UpdateQuestion(q); err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, q)
}

// RemoveQuestion godoc
// DELETE /api/v1/professor/exams/draft/questions/:question_id
func (h *ExamHandler) RemoveQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	h.examService.Draft(claims.UserID).RemoveQuestion(c.Param("question_id"))
	response.Success(c, http.StatusOK, gin.H{})
}

// publishRequest optionally republishes over an existing exam.
type publishRequest struct {
	ExamID string `json:"exam_id"`
}

// Publish godoc
// POST /api/v1/professor/exams
// Publishes the current draft as a new exam, or over exam_id when given.
func (h *ExamHandler) Publish(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	content := h.examService.Draft(claims.UserID).Snapshot()
	record, err := h.examService.Publish(c.Request.Context(), claims.UserID, req.ExamID, content)
	if err != nil {
		failDomain(c, err)
		return
	}
	h.examService.DiscardDraft(claims.UserID)

	response.Success(c, http.StatusCreated, record)
}

// List godoc
// GET /api/v1/professor/exams
func (h *ExamHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)

	records, err := h.examService.ListByProfessor(c.Request.Context(), claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}

// Get godoc
// GET /api/v1/professor/exams/:exam_id
// Returns the record with its decoded content.
func (h *ExamHandler) Get(c *gin.Context) {
	record, err := h.examService.GetExam(c.Request.Context(), c.Param("exam_id"))
	if err != nil {
		failDomain(c, err)
		return
	}

	content, err := record.Decode()
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": record, "content": content})
}

// Delete godoc
// DELETE /api/v1/professor/exams/:exam_id
func (h *ExamHandler) Delete(c *gin.Context) {
	claims := middleware.GetClaims(c)

	if err := h.examService.Delete(c.Request.Context(), claims.UserID, c.Param("exam_id")); err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Generate godoc
// POST /api/v1/professor/exams/draft/generate
// Generates questions into the draft. When the external service fails the
// client gets clearly-labeled demo questions instead of fabricated ones.
func (h *ExamHandler) Generate(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req service.GenerationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, err := h.examService.Generate(c.Request.Context(), claims.UserID, req)
	if err != nil {
		if errors.Is(err, model.ErrExternalService) {
			h.log.Warn().Err(err).Str("professor_id", claims.UserID).Msg("Generation failed, serving demo questions")
			draft := h.examService.Draft(claims.UserID)
			demo := make([]model.Question, 0, req.Count)
			for _, q := range ai.DemoQuestions(req) {
				demo = append(demo, draft.AddQuestion(q))
			}
			response.Success(c, http.StatusOK, gin.H{"demo": true, "questions": demo})
			return
		}
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"demo": false, "questions": questions})
}
