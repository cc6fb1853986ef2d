package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/middleware"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/service"
	ws "github.com/skolastik/skolastik-backend/internal/websocket"
)

const (
	attachTTL       = 60 * time.Second
	attachRefresh   = 20 * time.Second
	wsWriteDeadline = 10 * time.Second
)

// WSHandler runs the live attempt channel: per-answer autosave, manual
// submit and the server-side deadline push. One connection per session;
// a second tab is rejected while the first holds the attach lock.
type WSHandler struct {
	sessionService *service.SessionService
	upgrader       gorilla.Upgrader
	log            zerolog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = struct{}{}
	}

	return &WSHandler{
		sessionService: sessionService,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := originSet[r.Header.Get("Origin")]
				return ok
			},
		},
		log: log.With().Str("component", "ws_handler").Logger(),
	}
}

// Attach handles GET /ws/exams/:exam_id?token=...
func (h *WSHandler) Attach(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	// Resume resolves the active attempt and handles the "deadline
	// passed while away" case by finalizing before we attach.
	state, result, err := h.sessionService.Resume(ctx, examID, claims.UserID)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}
	if result != nil {
		ws.WriteTyped(conn, ws.GradedResponse{
			Event:         ws.EventExpired,
			ResultID:      result.ID.String(),
			Score:         result.Score,
			AutoSubmitted: result.AutoSubmitted,
		})
		return
	}

	sessionID := state.SessionID
	attached, err := h.sessionService.TryAttach(ctx, sessionID, attachTTL)
	if err != nil {
		ws.WriteError(conn, "attach failed")
		return
	}
	if !attached {
		ws.WriteError(conn, "session is already open in another client")
		return
	}
	defer h.sessionService.Detach(context.Background(), sessionID)

	h.log.Info().
		Str("session_id", sessionID.String()).
		Int("student_id", claims.UserID).
		Msg("Client attached")

	h.serve(ctx, conn, sessionID, time.Duration(state.RemainingSeconds*float64(time.Second)))
}

// messageReader is the read side of a WebSocket connection.
// *gorilla.Conn satisfies it.
type messageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// readPump forwards incoming frames onto msgs until a read error, then
// closes msgs. The done channel lets the pump exit even when a frame is
// already in hand and nobody will receive it again (a client pipelining
// an autosave right behind its submit frame is the normal pattern), so
// no goroutine outlives its connection blocked on a channel send.
func readPump(conn messageReader, msgs chan<- []byte, done <-chan struct{}) {
	defer close(msgs)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case msgs <- raw:
		case <-done:
			return
		}
	}
}

// serve owns the connection until submit, deadline or disconnect.
func (h *WSHandler) serve(ctx context.Context, conn *gorilla.Conn, sessionID uuid.UUID, remaining time.Duration) {
	msgs := make(chan []byte)
	done := make(chan struct{})
	defer close(done)
	go readPump(conn, msgs, done)

	// A paused session can outlive this timer; on fire we re-check the
	// authoritative remaining time and re-arm instead of trusting the
	// local value.
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	refresh := time.NewTicker(attachRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-refresh.C:
			h.sessionService.RefreshAttach(ctx, sessionID, attachTTL)

		case <-deadline.C:
			left, status, err := h.sessionService.RemainingFor(ctx, sessionID)
			if err != nil {
				ws.WriteError(conn, "deadline check failed")
				return
			}
			if status.IsTerminal() {
				h.sendFinal(ctx, conn, sessionID, nil, true)
				return
			}
			if left > 0 {
				deadline.Reset(left)
				continue
			}
			h.sendFinal(ctx, conn, sessionID, nil, true)
			return

		case raw, ok := <-msgs:
			if !ok {
				// Read side is gone (client disconnected).
				return
			}
			var envelope ws.RequestEnvelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				ws.WriteError(conn, "invalid message")
				continue
			}

			switch envelope.Action {
			case ws.ActionAutosave:
				var req ws.AutosaveRequest
				if err := json.Unmarshal(raw, &req); err != nil || req.QID == "" {
					ws.WriteError(conn, "invalid autosave payload")
					continue
				}
				if err := h.sessionService.RecordAnswer(ctx, sessionID, req.QID, req.Answer); err != nil {
					h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Autosave failed")
					ws.WriteError(conn, "autosave failed")
					continue
				}
				ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: req.QID})

			case ws.ActionSubmit:
				var req ws.SubmitRequest
				if err := json.Unmarshal(raw, &req); err != nil {
					ws.WriteError(conn, "invalid submit payload")
					continue
				}
				h.sendFinal(ctx, conn, sessionID, req.Answers, false)
				return

			case ws.ActionPing:
				left, _, err := h.sessionService.RemainingFor(ctx, sessionID)
				if err != nil {
					ws.WriteError(conn, "clock unavailable")
					continue
				}
				ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, RemainingSeconds: left.Seconds()})

			default:
				ws.WriteError(conn, "unknown action")
			}
		}
	}
}

// sendFinal finalizes the attempt and reports the result. Safe against
// races with the sweep worker or another finalizer: everyone observes
// the same result.
func (h *WSHandler) sendFinal(ctx context.Context, conn *gorilla.Conn, sessionID uuid.UUID, extra model.AnswerMap, autoSubmitted bool) {
	res, err := h.sessionService.Finalize(ctx, sessionID, extra, autoSubmitted)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Finalize over WebSocket failed")
		ws.WriteError(conn, "submission failed")
		return
	}

	event := ws.EventGraded
	if res.AutoSubmitted {
		event = ws.EventExpired
	}
	ws.WriteTyped(conn, ws.GradedResponse{
		Event:         event,
		ResultID:      res.ID.String(),
		Score:         res.Score,
		AutoSubmitted: res.AutoSubmitted,
	})
}
