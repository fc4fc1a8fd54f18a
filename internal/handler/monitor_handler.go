package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	ws "github.com/Giuseph66/Avaliacoes-seguras/internal/websocket"
)

// RoomMonitor godoc
// WS /ws/v1/rooms/:room_id/monitor?token=...
//
// Professor live view of one room: the room document, the roster and the
// waiting-room presence frames, pushed as they change. Read side only
// sends pings; every roster action goes through the REST API.
func (h *WSHandler) RoomMonitor(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roomID := c.Param("room_id")

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if room.ProfessorID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your room"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog := h.log.With().
		Str("room_id", roomID).
		Str("professor_id", claims.UserID).
		Logger()
	wsLog.Info().Msg("Monitor connected")

	conn.WriteTyped(ws.RoomStateResponse{Event: ws.EventRoomState, Room: room})
	h.sendRoster(ctx, conn, wsLog, roomID)

	go h.streamRoom(ctx, conn, wsLog, roomID)
	go h.streamRoster(ctx, conn, wsLog, roomID)
	go h.streamPresence(ctx, conn, roomID)

	for {
		var msg ws.RequestEnvelope
		if _, err := conn.ReadRaw(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			break
		}
		switch msg.Action {
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			conn.WriteError("ação desconhecida: " + string(msg.Action))
		}
	}
	wsLog.Info().Msg("Monitor disconnected")
}

// streamRoster pushes the full sorted roster on every participant change.
// Re-listing on each change keeps ordering consistent with the REST
// participants endpoint.
func (h *WSHandler) streamRoster(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID string) {
	changes, cancelSub, err := h.roomService.SubscribeParticipants(ctx, roomID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Roster subscribe failed")
		return
	}
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			h.sendRoster(ctx, conn, wsLog, roomID)
		}
	}
}

func (h *WSHandler) sendRoster(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID string) {
	participants, err := h.roomService.ListParticipants(ctx, roomID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Roster list failed")
		return
	}
	if participants == nil {
		participants = []model.Participant{}
	}
	conn.WriteTyped(ws.RosterResponse{Event: ws.EventRoster, Participants: participants})
}
