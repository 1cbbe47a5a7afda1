package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/engine"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/ws"
)

const defaultLeaderboardLimit = 10

type Config struct {
	Router  gin.IRouter
	Engine  *engine.Engine
	Quizzes *quiz.Service
	WS      *ws.Handler
}

type API struct {
	engine  *engine.Engine
	quizzes *quiz.Service
	ws      *ws.Handler
}

func New(c Config) *API {
	a := &API{
		engine:  c.Engine,
		quizzes: c.Quizzes,
		ws:      c.WS,
	}

	c.Router.GET("/health", a.Health)

	v1 := c.Router.Group("/api/v1")
	v1.POST("/quizzes", a.CreateQuiz)
	v1.GET("/quizzes/:id", a.GetQuiz)
	v1.POST("/quizzes/sessions", a.CreateSession)
	v1.GET("/quizzes/sessions/:id", a.GetSession)
	v1.POST("/quizzes/sessions/:id/start", a.StartSession)
	v1.POST("/quizzes/sessions/:id/next", a.NextQuestion)
	v1.POST("/quizzes/sessions/:id/end", a.EndSession)
	v1.POST("/quizzes/sessions/:id/submit", a.SubmitAnswer)
	v1.GET("/quizzes/sessions/:id/leaderboard", a.GetLeaderboard)
	v1.POST("/quizzes/sessions/:id/leaderboard/rebuild", a.RebuildLeaderboard)
	v1.GET("/quizzes/sessions/:id/ws/:participant", a.Connect)

	return a
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req quiz.CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.InvalidArgument("invalid quiz: %v", err))
		return
	}

	q, err := a.quizzes.CreateQuiz(c.Request.Context(), req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, q)
}

func (a *API) GetQuiz(c *gin.Context) {
	q, err := a.quizzes.GetQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, q)
}

func (a *API) CreateSession(c *gin.Context) {
	quizID := c.Query("quiz_id")
	if quizID == "" {
		renderError(c, errors.InvalidArgument("quiz_id is required"))
		return
	}

	ss, err := a.engine.CreateSession(c.Request.Context(), quizID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ss)
}

func (a *API) GetSession(c *gin.Context) {
	ss, err := a.engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, ss)
}

func (a *API) StartSession(c *gin.Context) {
	ss, err := a.engine.StartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	renderSession(c, "Session started successfully", ss)
}

func (a *API) NextQuestion(c *gin.Context) {
	ss, err := a.engine.NextQuestion(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	msg := "Moved to next question"
	if ss.Status == domain.StatusCompleted {
		msg = "Session completed"
	}
	renderSession(c, msg, ss)
}

func (a *API) EndSession(c *gin.Context) {
	ss, err := a.engine.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	renderSession(c, "Session completed", ss)
}

type SubmitAnswerRequest struct {
	SessionID     string `json:"session_id"`
	QuestionID    string `json:"question_id"`
	ParticipantID string `json:"user_id" binding:"required"`
	Answer        string `json:"answer"`
}

type SubmitAnswerResponse struct {
	Correct    bool  `json:"is_correct"`
	Points     int64 `json:"points"`
	TotalScore int64 `json:"total_score"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.InvalidArgument("invalid answer: %v", err))
		return
	}

	id := c.Param("id")
	if req.SessionID != id {
		renderError(c, errors.InvalidArgument("session id mismatch"))
		return
	}

	res, err := a.engine.SubmitAnswer(c.Request.Context(), domain.Answer{
		SessionID:     id,
		QuestionID:    req.QuestionID,
		ParticipantID: req.ParticipantID,
		Answer:        req.Answer,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitAnswerResponse{
		Correct:    res.Correct,
		Points:     res.Points,
		TotalScore: res.Total,
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			renderError(c, errors.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = n
	}

	l, err := a.engine.Leaderboard(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) RebuildLeaderboard(c *gin.Context) {
	l, err := a.engine.RebuildLeaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

// Connect upgrades to a websocket and serves the participant until disconnect.
func (a *API) Connect(c *gin.Context) {
	a.ws.Serve(c.Writer, c.Request, c.Param("id"), c.Param("participant"))
}

func renderSession(c *gin.Context, msg string, ss *domain.Session) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": msg,
		"session": ss,
	})
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.JSON(e.HTTPStatusCode(), gin.H{
		"status":  "error",
		"code":    e.Name(),
		"message": e.Message,
	})
}
