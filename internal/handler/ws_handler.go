package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/middleware"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
	ws "github.com/Giuseph66/Avaliacoes-seguras/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation. An
// empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs one student's live room session: waiting-room presence,
// the timed exam attempt and the anti-cheat channel, all over a single
// connection.
type WSHandler struct {
	roomService     *service.RoomService
	presenceService *service.PresenceService
	sessionService  *service.ExamSessionService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(roomService *service.RoomService, presenceService *service.PresenceService, sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		roomService:     roomService,
		presenceService: presenceService,
		sessionService:  sessionService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// wsSession is the per-connection state. The session controller and the
// monitor exist only while an attempt is active.
type wsSession struct {
	mu      sync.Mutex
	ctrl    *service.SessionController
	monitor *service.AntiCheatMonitor
}

func (s *wsSession) current() (*service.SessionController, *service.AntiCheatMonitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl, s.monitor
}

func (s *wsSession) set(ctrl *service.SessionController, monitor *service.AntiCheatMonitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
	s.monitor = monitor
}

// RoomSession godoc
// WS /ws/v1/rooms/:room_id/session?token=...
func (h *WSHandler) RoomSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roomID := c.Param("room_id")

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
		Str("student_id", claims.UserID).
		Logger()

	participant, err := h.roomService.Admit(ctx, roomID, claims.UserID, claims.Name)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrExpelled):
			conn.WriteTyped(ws.AbortedResponse{Event: ws.EventExpelled})
		case errors.Is(err, model.ErrNotFound):
			conn.WriteError("sala não encontrada")
		default:
			wsLog.Error().Err(err).Msg("Admit failed")
			conn.WriteError("não foi possível entrar na sala")
		}
		return
	}
	wsLog.Info().Str("status", string(participant.Status)).Msg("Student connected")

	sess := &wsSession{}

	room, err := h.roomService.GetRoom(ctx, roomID)
	if err == nil {
		conn.WriteTyped(ws.RoomStateResponse{Event: ws.EventRoomState, Room: room})
	}
	conn.WriteTyped(ws.ParticipantResponse{Event: ws.EventParticipant, Participant: &participant})

	go h.streamRoom(ctx, conn, wsLog, roomID)
	go h.streamOwnRecord(ctx, conn, wsLog, roomID, claims.UserID)

	if participant.Status == model.StatusFlagged {
		// Reconnected straight into the holding flow. Presence resumes
		// only if the professor readmits.
		conn.WriteTyped(ws.AbortedResponse{Event: ws.EventAborted, Reason: string(participant.Reason)})
		go h.watchHolding(ctx, conn, wsLog, roomID, claims, true)
	} else {
		h.presenceService.Ensure(ctx, roomID, claims.UserID, claims.Name)
		go h.streamPresence(ctx, conn, roomID)
	}

	h.readLoop(ctx, conn, wsLog, sess, roomID, claims)

	if ctrl, _ := sess.current(); ctrl != nil {
		ctrl.Close()
	}
	h.presenceService.Remove(context.Background(), roomID, claims.UserID)
	wsLog.Info().Msg("Connection closed")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, sess *wsSession, roomID string, claims *service.Claims) {
	for {
		var msg ws.RequestEnvelope
		raw, err := conn.ReadRaw(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

		case ws.ActionSay:
			var req ws.SayRequest
			if err := decodeRaw(raw, &req); err != nil || strings.TrimSpace(req.Text) == "" {
				conn.WriteError("texto inválido")
				continue
			}
			h.presenceService.Say(ctx, roomID, claims.UserID, req.Text)

		case ws.ActionSetColor:
			var req ws.SetColorRequest
			if err := decodeRaw(raw, &req); err != nil || req.Color == "" {
				conn.WriteError("cor inválida")
				continue
			}
			h.presenceService.SetColor(ctx, roomID, claims.UserID, req.Color)

		case ws.ActionStartExam:
			h.handleStartExam(ctx, conn, wsLog, sess, roomID, claims)

		case ws.ActionAnswer:
			var req ws.AnswerRequest
			if err := decodeRaw(raw, &req); err != nil || req.QuestionID == "" {
				conn.WriteError("resposta inválida")
				continue
			}
			ctrl, _ := sess.current()
			if ctrl == nil {
				conn.WriteError("nenhuma prova em andamento")
				continue
			}
			if err := ctrl.Answer(req.QuestionID, req.Answer); err != nil {
				conn.WriteError("a prova não está em andamento")
			}

		case ws.ActionSubmit:
			ctrl, _ := sess.current()
			if ctrl == nil {
				conn.WriteError("nenhuma prova em andamento")
				continue
			}
			if _, err := ctrl.Submit(ctx); err != nil {
				wsLog.Error().Err(err).Msg("Submit failed")
				conn.WriteError("falha ao enviar a prova, tente novamente")
			}

		case ws.ActionCheat:
			var req ws.CheatRequest
			if err := decodeRaw(raw, &req); err != nil {
				conn.WriteError("sinal inválido")
				continue
			}
			reason, ok := parseFlagReason(req.Reason)
			if !ok {
				conn.WriteError("motivo desconhecido: " + req.Reason)
				continue
			}
			_, monitor := sess.current()
			if monitor != nil {
				monitor.Signal(ctx, reason)
			}

		case ws.ActionJoinWaiting:
			// Already admitted on connect; re-ensure the avatar.
			h.presenceService.Ensure(ctx, roomID, claims.UserID, claims.Name)

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("ação desconhecida: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) handleStartExam(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, sess *wsSession, roomID string, claims *service.Claims) {
	if ctrl, _ := sess.current(); ctrl != nil && ctrl.State() == model.SessionRunning {
		conn.WriteError("prova já está em andamento")
		return
	}

	ctrl := h.sessionService.NewSession(roomID, claims.UserID, claims.Name)
	monitor := service.NewAntiCheatMonitor(ctrl, h.roomService, wsLog)
	sess.set(ctrl, monitor)

	if err := ctrl.Start(ctx); err != nil {
		sess.set(nil, nil)
		switch {
		case errors.Is(err, model.ErrDecode):
			conn.WriteError("conteúdo da prova está corrompido")
		case errors.Is(err, model.ErrNotFound):
			conn.WriteError("prova não encontrada")
		case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrPreconditionFailed):
			conn.WriteError("a prova ainda não foi liberada")
		default:
			wsLog.Error().Err(err).Msg("Start exam failed")
			conn.WriteError("não foi possível iniciar a prova")
		}
		return
	}

	// Events emitted during Start (an already-expired room finalizes
	// immediately) sit in the controller's buffer until forwarded.
	go h.forwardSessionEvents(ctx, conn, wsLog, roomID, claims, ctrl)

	if ctrl.State() == model.SessionRunning {
		conn.WriteTyped(ws.ExamPayloadResponse{
			Event:     ws.EventExamPayload,
			Content:   ctrl.Content(),
			Remaining: ctrl.Remaining(),
		})
	}
}

// forwardSessionEvents relays controller events to the socket. An aborted
// event switches the student into the holding flow.
func (h *WSHandler) forwardSessionEvents(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID string, claims *service.Claims, ctrl *service.SessionController) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ctrl.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case service.SessionEventTick:
				conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, Remaining: ev.Remaining})
			case service.SessionEventFinished:
				conn.WriteTyped(ws.FinishedResponse{Event: ws.EventFinished, SubmissionID: ev.Submission.ID})
				return
			case service.SessionEventAborted:
				conn.WriteTyped(ws.AbortedResponse{Event: ws.EventAborted, Reason: string(ev.Reason)})
				go h.watchHolding(ctx, conn, wsLog, roomID, claims, false)
				return
			}
		}
	}
}

// watchHolding keeps the flagged student parked until the professor acts.
// resumePresence restarts the waiting-room stream on readmission; callers
// that already have the stream running from connect time pass false.
func (h *WSHandler) watchHolding(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID string, claims *service.Claims, resumePresence bool) {
	outcome, err := h.sessionService.WatchHolding(ctx, roomID, claims.UserID)
	if err != nil {
		if ctx.Err() == nil {
			wsLog.Error().Err(err).Msg("Holding watch failed")
		}
		return
	}

	switch outcome {
	case service.HoldingReadmitted:
		conn.WriteTyped(ws.ParticipantResponse{Event: ws.EventReadmitted, Participant: nil})
		if resumePresence {
			h.presenceService.Ensure(ctx, roomID, claims.UserID, claims.Name)
			go h.streamPresence(ctx, conn, roomID)
		}
	case service.HoldingExpelled:
		conn.WriteTyped(ws.AbortedResponse{Event: ws.EventExpelled})
	case service.HoldingFinished:
		// Already submitted; nothing to revive.
	}
}

func (h *WSHandler) streamRoom(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID string) {
	changes, cancelSub, err := h.roomService.SubscribeRoom(ctx, roomID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Room subscribe failed")
		return
	}
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Doc == nil {
				continue
			}
			var room model.Room
			if err := decodeDoc(change, &room); err != nil {
				continue
			}
			conn.WriteTyped(ws.RoomStateResponse{Event: ws.EventRoomState, Room: room})
		}
	}
}

func (h *WSHandler) streamOwnRecord(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, roomID, studentID string) {
	changes, cancelSub, err := h.roomService.SubscribeParticipant(ctx, roomID, studentID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Participant subscribe failed")
		return
	}
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Doc == nil {
				conn.WriteTyped(ws.ParticipantResponse{Event: ws.EventParticipant, Participant: nil})
				continue
			}
			var p model.Participant
			if err := decodeDoc(change, &p); err != nil {
				continue
			}
			conn.WriteTyped(ws.ParticipantResponse{Event: ws.EventParticipant, Participant: &p})
		}
	}
}

func (h *WSHandler) streamPresence(ctx context.Context, conn *ws.Conn, roomID string) {
	frames, cancelWatch := h.presenceService.Watch(roomID)
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			conn.WriteTyped(ws.PresenceFrameResponse{Event: ws.EventPresenceFrame, Entries: frame})
		}
	}
}

func parseFlagReason(raw string) (model.FlagReason, bool) {
	switch model.FlagReason(raw) {
	case model.ReasonHardwareBack, model.ReasonAppBackground, model.ReasonFocusLost, model.ReasonScreenshot:
		return model.FlagReason(raw), true
	}
	return "", false
}
