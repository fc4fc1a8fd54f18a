package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/response"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/validator"
)

// RoomHandler handles room lifecycle and roster endpoints.
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// ownedRoom loads the room and enforces that the caller is its professor.
func (h *RoomHandler) ownedRoom(c *gin.Context) (string, bool) {
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

type createRoomRequest struct {
	ExamID string `json:"exam_id" binding:"required"`
}

// Create godoc
// POST /api/v1/professor/rooms
// Idempotent: recreating the room for the same exam returns it unchanged.
func (h *RoomHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req createRoomRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.ExamID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusCreated, room)
}

// Get godoc
// GET /api/v1/professor/rooms/:room_id
func (h *RoomHandler) Get(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, room)
}

type configureRoomRequest struct {
	Deadline     time.Time `json:"deadline" binding:"required"`
	Instructions string    `json:"instructions" binding:"required"`
}

// Configure godoc
// PUT /api/v1/professor/rooms/:room_id/config
func (h *RoomHandler) Configure(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	var req configureRoomRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	room, err := h.roomService.SetDeadlineAndInstructions(c.Request.Context(), roomID, req.Deadline, req.Instructions)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, room)
}

// Release godoc
// POST /api/v1/professor/rooms/:room_id/release
func (h *RoomHandler) Release(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	room, err := h.roomService.Release(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, room)
}

// Close godoc
// POST /api/v1/professor/rooms/:room_id/close
func (h *RoomHandler) Close(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	room, err := h.roomService.Close(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, room)
}

// Reopen godoc
// POST /api/v1/professor/rooms/:room_id/reopen
func (h *RoomHandler) Reopen(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	room, err := h.roomService.Reopen(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, room)
}

// Participants godoc
// GET /api/v1/professor/rooms/:room_id/participants
func (h *RoomHandler) Participants(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	participants, err := h.roomService.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, participants)
}

// Expel godoc
// POST /api/v1/professor/rooms/:room_id/participants/:student_id/expel
func (h *RoomHandler) Expel(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	p, err := h.roomService.Expel(c.Request.Context(), roomID, c.Param("student_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

// Readmit godoc
// POST /api/v1/professor/rooms/:room_id/participants/:student_id/readmit
func (h *RoomHandler) Readmit(c *gin.Context) {
	roomID, ok := h.ownedRoom(c)
	if !ok {
		return
	}

	p, err := h.roomService.Readmit(c.Request.Context(), roomID, c.Param("student_id"))
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

// Join godoc
// POST /api/v1/student/rooms/:room_id/join
// Student entry point: the room id is the join code, no further
// authorization check against the exam owner.
func (h *RoomHandler) Join(c *gin.Context) {
	claims := middleware.GetClaims(c)
	roomID := c.Param("room_id")

	p, err := h.roomService.Admit(c.Request.Context(), roomID, claims.UserID, claims.Name)
	if err != nil {
		failDomain(c, err)
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"room": room, "participant": p})
}
