package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/autopress/app/cfg"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	// Workers authenticate with their endpoint secret instead of the API key.
	r.POST("/api/callback", handler.PostCallback)

	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.GET("/campaigns", handler.ListCampaigns)
			api.POST("/campaigns/reload", handler.ReloadCampaigns)
			api.GET("/campaigns/:id", handler.GetCampaign)
			api.DELETE("/campaigns/:id", handler.DeleteCampaign)
			api.POST("/campaigns/:id/status", handler.SetCampaignStatus)
			api.POST("/campaigns/:id/run", handler.RunCampaign)
			api.POST("/campaigns/:id/stop", handler.StopRun)
			api.POST("/campaigns/:id/retry-failed", handler.RetryAllFailed)
			api.POST("/campaigns/:id/ingest", handler.IngestCampaign)
			api.GET("/campaigns/:id/history", handler.ListHistory)
			api.GET("/campaigns/:id/tasks", handler.ListTasks)
			api.POST("/campaigns/:id/tasks", handler.CreateTask)

			api.GET("/tasks/:id", handler.GetTask)
			api.DELETE("/tasks/:id", handler.DeleteTask)
			api.POST("/tasks/:id/retry", handler.RetryTask)
			api.POST("/tasks/:id/cancel-run", handler.CancelRun)
			api.POST("/tasks/:id/cancel", handler.CancelTask)
			api.POST("/tasks/:id/republish", handler.Republish)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Warn("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"callback": "/api/callback (POST, requires X-Callback-Token header)",
			"health":   "/health",
			"stats":    "/stats",
		}

		if apiAccessKey != "" {
			endpoints["campaigns"] = "/api/campaigns (requires X-API-Key header)"
			endpoints["tasks"] = "/api/campaigns/<id>/tasks (requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "Autopress",
			"version":     cfg.GetVersion(),
			"description": "Campaign task orchestration for content generation workers",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
