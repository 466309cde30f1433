package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/nwbconvert/orchestrator/internal/http/handlers"
	httpMW "github.com/nwbconvert/orchestrator/internal/http/middleware"
	"github.com/nwbconvert/orchestrator/internal/platform/authtoken"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// RouterConfig wires every handler the Conversation Agent exposes over
// HTTP (spec §6).
type RouterConfig struct {
	ConversationHandler *httpH.ConversationHandler
	HealthHandler       *httpH.HealthHandler
	AuthVerifier        *authtoken.Verifier
	Log                 *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireOperatorToken(cfg.AuthVerifier))
	{
		if cfg.ConversationHandler != nil {
			api.POST("/upload", cfg.ConversationHandler.Upload)
			api.POST("/start-conversion", cfg.ConversationHandler.StartConversion)
			api.POST("/chat", cfg.ConversationHandler.Chat)
			api.POST("/chat/smart", cfg.ConversationHandler.ChatSmart)
			api.POST("/improvement-decision", cfg.ConversationHandler.ImprovementDecision)
			api.GET("/status", cfg.ConversationHandler.Status)
			api.GET("/download/nwb", cfg.ConversationHandler.DownloadNWB)
			api.GET("/download/report", cfg.ConversationHandler.DownloadReport)
			api.POST("/reset", cfg.ConversationHandler.Reset)
		}
	}

	return r
}
