package http

import (
	"net/http"

	"classroom-qa/internal/app"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires every board route. Only /healthz and the sign-up/sign-in
// endpoints are reachable without a bearer token.
func NewRouter(board *app.Board, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewHandler(board, logger)
	ws := NewWSHandler(board, logger)

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := r.Group("/v1")
	v1.POST("/auth/signup", h.SignUp)
	v1.POST("/auth/signin", h.SignIn)

	authed := v1.Group("")
	authed.Use(RequireSession(board))
	authed.POST("/auth/signout", h.SignOut)

	authed.GET("/me", h.Me)
	authed.PATCH("/me", h.UpdateMe)
	authed.GET("/me/profile", h.Profile)

	authed.GET("/rooms", h.JoinedRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/join", h.JoinRoom)
	authed.GET("/rooms/:id", h.Room)
	authed.GET("/rooms/:id/questions", h.ListQuestions)
	authed.POST("/rooms/:id/questions", h.CreateQuestion)

	authed.PUT("/questions/:id/status", h.UpdateQuestionStatus)
	authed.DELETE("/questions/:id", h.DeleteQuestion)
	authed.POST("/questions/:id/reactions", h.ReactToQuestion)
	authed.POST("/questions/:id/answers", h.CreateAnswer)

	authed.PATCH("/answers/:id", h.UpdateAnswer)
	authed.DELETE("/answers/:id", h.DeleteAnswer)
	authed.POST("/answers/:id/reactions", h.ReactToAnswer)

	v1.GET("/ws", RequireSocketSession(board), ws.ServeWS)
	return r
}
