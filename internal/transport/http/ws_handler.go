package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"classroom-qa/internal/app"
	"classroom-qa/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

// WSHandler serves a request/response command channel. Every inbound
// message gets exactly one reply carrying the same id; the server never
// sends anything unprompted.
type WSHandler struct {
	board    *app.Board
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(board *app.Board, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		board:  board,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type listPayload struct {
	RoomID string `json:"roomId"`
}

type reactPayload struct {
	Target   string              `json:"target"`
	ID       string              `json:"id"`
	Reaction domain.ReactionType `json:"reaction"`
}

type statusPayload struct {
	QuestionID string                `json:"questionId"`
	Status     domain.QuestionStatus `json:"status"`
}

type outboundMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// ServeWS upgrades an authenticated request and answers commands until the
// client disconnects.
func (h *WSHandler) ServeWS(c *gin.Context) {
	s := sessionFrom(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("ws read failed", zap.Error(err))
			}
			return
		}
		reply := h.dispatch(ctx, s, inbound)
		reply.ID = inbound.ID
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warn("ws write failed", zap.Error(err))
			return
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, s domain.Session, in inboundMessage) outboundMessage {
	switch in.Type {
	case "list":
		var p listPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.RoomID == "" {
			return h.failure(domain.Invalid("list needs roomId"))
		}
		questions, err := h.board.ListQuestions(ctx, s, p.RoomID)
		if err != nil {
			return h.failure(err)
		}
		return outboundMessage{Type: "questions", Payload: questions}

	case "react":
		var p reactPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.ID == "" {
			return h.failure(domain.Invalid("react needs target, id and reaction"))
		}
		switch p.Target {
		case "question":
			q, err := h.board.ToggleQuestionReaction(ctx, s, p.ID, p.Reaction)
			return h.entity("question", q, err)
		case "answer":
			a, err := h.board.ToggleAnswerReaction(ctx, s, p.ID, p.Reaction)
			return h.entity("answer", a, err)
		default:
			return h.failure(domain.Invalid("unknown reaction target %q", p.Target))
		}

	case "status":
		var p statusPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.QuestionID == "" {
			return h.failure(domain.Invalid("status needs questionId and status"))
		}
		q, err := h.board.UpdateQuestionStatus(ctx, s, p.QuestionID, p.Status)
		return h.entity("question", q, err)

	default:
		return h.failure(domain.Invalid("unsupported message type %q", in.Type))
	}
}

func (h *WSHandler) entity(kind string, v any, err error) outboundMessage {
	if err != nil {
		return h.failure(err)
	}
	switch typed := v.(type) {
	case *domain.Question:
		if typed == nil {
			return h.failure(domain.ErrNotFound)
		}
	case *domain.Answer:
		if typed == nil {
			return h.failure(domain.ErrNotFound)
		}
	}
	return outboundMessage{Type: kind, Payload: v}
}

func (h *WSHandler) failure(err error) outboundMessage {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("ws command failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	return outboundMessage{Type: "error", Payload: errorPayload{Status: status, Message: msg}}
}
