package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulseboard/internal/assistant"
	"pulseboard/internal/auth"
	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/oauth"
	"pulseboard/internal/provider"
	"pulseboard/internal/redis"
	"pulseboard/internal/tasks"
)

type Server struct {
	log    *slog.Logger
	db     *db.DB
	redis  *redis.Client
	cfg    config.Config
	router *gin.Engine

	sessions  *auth.TokenEngine
	oauth     *oauth.Manager
	tokens    *oauth.Store
	tasks     *tasks.Repo
	assistant *assistant.Assistant

	slackCaller  *provider.Caller
	jiraCaller   *provider.Caller
	googleCaller *provider.Caller
}

func NewServer(
	log *slog.Logger,
	dbConn *db.DB,
	redisClient *redis.Client,
	cfg config.Config,
	sessions *auth.TokenEngine,
	oauthManager *oauth.Manager,
	tokenStore *oauth.Store,
	taskRepo *tasks.Repo,
	asst *assistant.Assistant,
) *Server {
	s := &Server{
		log:       log,
		db:        dbConn,
		redis:     redisClient,
		cfg:       cfg,
		router:    gin.New(),
		sessions:  sessions,
		oauth:     oauthManager,
		tokens:    tokenStore,
		tasks:     taskRepo,
		assistant: asst,

		slackCaller:  provider.NewCaller("slack", nil, log, 5, 5),
		jiraCaller:   provider.NewCaller("jira", nil, log, 5, 5),
		googleCaller: provider.NewCaller("google", nil, log, 5, 5),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.inputValidationMiddleware())
	r.Use(s.rateLimitMiddleware())

	// popup landing page; the provider redirects here, unauthenticated
	r.GET("/oauth/callback/:provider", s.oauthCallback)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)

		authed := v1.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.POST("/connect/:provider", s.connect)
			authed.POST("/oauth/:provider/exchange", s.exchange)
			authed.GET("/connections", s.listConnections)
			authed.DELETE("/connections/:provider", s.disconnect)

			authed.GET("/slack/channels", s.slackChannels)
			authed.GET("/slack/messages", s.slackMessages)
			authed.GET("/slack/mentions", s.slackMentions)

			authed.GET("/jira/issues", s.jiraIssues)
			authed.GET("/calendar/events", s.calendarEvents)

			authed.GET("/tasks", s.listTasks)
			authed.POST("/tasks", s.createTask)
			authed.PATCH("/tasks/:id", s.updateTask)
			authed.DELETE("/tasks/:id", s.deleteTask)

			authed.POST("/chat", s.chat)
		}
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 15*time.Second)
}
