package gateway

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lhdbsbz/adarelay/internal/config"
	"github.com/lhdbsbz/adarelay/internal/cron"
	"github.com/lhdbsbz/adarelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

//go:embed web/setup.html
var webFS embed.FS

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the relay's HTTP front: widget API, setup form and suggestion socket.
type Server struct {
	Config *config.Config
	Relay  *relay.Service
	Conns  *ConnManager
	// Scheduler, when set, has its latest keep-alive run reported by /health.
	Scheduler *cron.Scheduler

	widget  atomic.Pointer[config.WidgetConfig]
	httpSrv *http.Server
	startAt time.Time
}

func NewServer(cfg *config.Config, svc *relay.Service) *Server {
	s := &Server{
		Config:  cfg,
		Relay:   svc,
		Conns:   NewConnManager(),
		startAt: time.Now(),
	}
	s.Reload(cfg)
	return s
}

// Reload applies the poll settings of a reloaded config to suggestion sockets
// opened afterwards. Register it with config.RegisterOnReload.
func (s *Server) Reload(cfg *config.Config) {
	w := cfg.Widget
	s.widget.Store(&w)
}

func (s *Server) widgetConfig() config.WidgetConfig {
	return *s.widget.Load()
}

// Handler builds the gin engine wrapped in a permissive CORS handler; the
// widget calls the relay from inside the helpdesk iframe.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/health", s.ginHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/setup", s.ginSetupPage)
	engine.POST("/setup", s.ginSetupSubmit)
	engine.GET("/ws/suggestions", s.ginSuggestions)
	s.registerAPIRoutes(engine)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(engine)
}

// Start listens on the configured port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	addr := fmt.Sprintf(":%d", s.Config.Server.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("adarelay listening", "port", s.Config.Server.Port)
	if u := s.Config.Server.PublicURL; u != "" {
		slog.Info("setup form", "url", u+"/setup")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	h := gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startAt).String(),
		"suggestions": s.Conns.Count(),
	}
	if s.Scheduler != nil {
		if runs := s.Scheduler.Runs(); len(runs) > 0 {
			h["keepalive"] = runs[len(runs)-1]
		}
	}
	c.JSON(http.StatusOK, h)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			slog.Warn("request", attrs...)
			return
		}
		slog.Debug("request", attrs...)
	}
}
