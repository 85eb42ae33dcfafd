package http

import (
	"net/http"

	"classroom-qa/internal/app"
	"classroom-qa/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the board over JSON.
type Handler struct {
	board  *app.Board
	logger *zap.Logger
}

func NewHandler(board *app.Board, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{board: board, logger: logger}
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateMeRequest struct {
	DisplayName *string `json:"displayName"`
	AvatarRef   *string `json:"avatarRef"`
}

type createRoomRequest struct {
	Name    string `json:"name" binding:"required"`
	Channel string `json:"channel"`
	TAKey   string `json:"taKey"`
}

type joinRoomRequest struct {
	Code  string `json:"code" binding:"required"`
	TAKey string `json:"taKey"`
}

type joinRoomResponse struct {
	Room    domain.Room    `json:"room"`
	Session domain.Session `json:"session"`
}

type postQuestionRequest struct {
	Text      string `json:"text" binding:"required"`
	Anonymous bool   `json:"anonymous"`
}

type statusRequest struct {
	Status domain.QuestionStatus `json:"status" binding:"required"`
}

type reactionRequest struct {
	Type domain.ReactionType `json:"type" binding:"required"`
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// SignUp handles POST /v1/auth/signup.
func (h *Handler) SignUp(c *gin.Context) {
	var req app.SignUpInput
	if !h.bind(c, &req) {
		return
	}
	s, err := h.board.SignUp(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// SignIn handles POST /v1/auth/signin.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := h.board.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) SignOut(c *gin.Context) {
	if err := h.board.SignOut(c.Request.Context(), sessionFrom(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.board.Me(c.Request.Context(), sessionFrom(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateMe handles PATCH /v1/me. Absent fields are left unchanged.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, s := c.Request.Context(), sessionFrom(c)
	user, err := h.board.Me(ctx, s)
	if err == nil && req.DisplayName != nil {
		user, err = h.board.UpdateDisplayName(ctx, s, *req.DisplayName)
	}
	if err == nil && req.AvatarRef != nil {
		user, err = h.board.UpdateAvatar(ctx, s, *req.AvatarRef)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) Profile(c *gin.Context) {
	p, err := h.board.Profile(c.Request.Context(), sessionFrom(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) JoinedRooms(c *gin.Context) {
	rooms, err := h.board.JoinedRooms(c.Request.Context(), sessionFrom(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if !h.bind(c, &req) {
		return
	}
	room, err := h.board.CreateRoom(c.Request.Context(), sessionFrom(c), req.Name, req.Channel, req.TAKey)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// JoinRoom handles POST /v1/rooms/join. The response carries the session
// because a TA key promotion issues a new token.
func (h *Handler) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if !h.bind(c, &req) {
		return
	}
	room, s, err := h.board.JoinRoom(c.Request.Context(), sessionFrom(c), req.Code, req.TAKey)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, joinRoomResponse{Room: room, Session: s})
}

func (h *Handler) Room(c *gin.Context) {
	room, err := h.board.Room(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) ListQuestions(c *gin.Context) {
	questions, err := h.board.ListQuestions(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, questions)
}

func (h *Handler) CreateQuestion(c *gin.Context) {
	var req postQuestionRequest
	if !h.bind(c, &req) {
		return
	}
	q, err := h.board.CreateQuestion(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Text, req.Anonymous)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h *Handler) UpdateQuestionStatus(c *gin.Context) {
	var req statusRequest
	if !h.bind(c, &req) {
		return
	}
	q, err := h.board.UpdateQuestionStatus(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Status)
	respondEntity(c, h.logger, q, err, "question not found")
}

func (h *Handler) DeleteQuestion(c *gin.Context) {
	deleted, err := h.board.DeleteQuestion(c.Request.Context(), sessionFrom(c), c.Param("id"))
	respondDeleted(c, h.logger, deleted, err, "question not found")
}

func (h *Handler) ReactToQuestion(c *gin.Context) {
	var req reactionRequest
	if !h.bind(c, &req) {
		return
	}
	q, err := h.board.ToggleQuestionReaction(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Type)
	respondEntity(c, h.logger, q, err, "question not found")
}

func (h *Handler) CreateAnswer(c *gin.Context) {
	var req textRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.board.CreateAnswer(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Text)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAnswer(c *gin.Context) {
	var req textRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.board.UpdateAnswer(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Text)
	respondEntity(c, h.logger, a, err, "answer not found")
}

func (h *Handler) DeleteAnswer(c *gin.Context) {
	deleted, err := h.board.DeleteAnswer(c.Request.Context(), sessionFrom(c), c.Param("id"))
	respondDeleted(c, h.logger, deleted, err, "answer not found")
}

func (h *Handler) ReactToAnswer(c *gin.Context) {
	var req reactionRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.board.ToggleAnswerReaction(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Type)
	respondEntity(c, h.logger, a, err, "answer not found")
}

// respondEntity writes v, or 404 when the target vanished (nil, nil).
func respondEntity[T any](c *gin.Context, logger *zap.Logger, v *T, err error, missing string) {
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": missing})
		return
	}
	c.JSON(http.StatusOK, v)
}

func respondDeleted(c *gin.Context, logger *zap.Logger, deleted bool, err error, missing string) {
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": missing})
		return
	}
	c.Status(http.StatusNoContent)
}
