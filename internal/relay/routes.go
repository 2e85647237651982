package relay

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/drawctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

type commandRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/ready", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware("relay"))
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerRoutes(r)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (s *Service) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Health())
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"uptime":    time.Since(s.startedAt).String(),
			"component": "relay",
			"version":   Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws", func(c *gin.Context) {
		s.handleUpgrade(c.Writer, c.Request)
	})

	// Agents written against the root URL upgrade there.
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			s.handleUpgrade(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"service": "drawctl-relay",
			"version": Version,
			"ws":      "/ws",
		})
	})

	// Polling-era endpoints kept for old agents. They do not touch the ledger.
	r.GET("/poll", func(c *gin.Context) {
		c.JSON(http.StatusOK, nil)
	})
	r.POST("/result", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"received": true})
	})
	r.POST("/focus", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/peer", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.registry.Snapshot())
	})

	r.POST("/commands", func(c *gin.Context) {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command body"})
			return
		}
		if strings.TrimSpace(req.Action) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing action"})
			return
		}
		res := s.SendCommand(c.Request.Context(), req.Action, req.Params)
		c.JSON(http.StatusOK, res)
	})

	r.GET("/commands/recent", func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		entries, ok, err := s.JournalRecent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if ok {
			c.JSON(http.StatusOK, gin.H{"source": "journal", "commands": entries})
			return
		}
		c.JSON(http.StatusOK, gin.H{"source": "memory", "commands": s.RecentReports(limit)})
	})
}
