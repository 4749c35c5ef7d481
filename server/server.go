package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/metrics"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const errBadRequest = "请求格式错误"

type askRequest struct {
	Question string `json:"question"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the chat service over HTTP and serves the web page.
type Server struct {
	echo      *echo.Echo
	service   core.ChatService
	metrics   metrics.Metrics
	staticDir string
	log       *slog.Logger
}

func New(service core.ChatService, m metrics.Metrics, staticDir string, log *slog.Logger) *Server {
	if m == nil {
		m = metrics.Noop{}
	}
	s := &Server{
		echo:      echo.New(),
		service:   service,
		metrics:   m,
		staticDir: staticDir,
		log:       log.With(sl.Module("http-server")),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(s.requestLogger())
	s.echo.Use(s.instrumented)

	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes registers the API, the static page and the metrics endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/ask", s.Ask)
	e.POST("/api/generate-image", s.GenerateImage)
	e.GET("/api/health", s.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.File("/", filepath.Join(s.staticDir, "index.html"))
	e.Static("/css", filepath.Join(s.staticDir, "css"))
	e.Static("/js", filepath.Join(s.staticDir, "js"))
	e.Static("/images", filepath.Join(s.staticDir, "images"))
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start(addr string) error {
	s.log.With(slog.String("address", addr)).Info("starting http server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Ask handles POST /api/ask
func (s *Server) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: errBadRequest})
	}

	answer, err := s.service.Ask(c.Request().Context(), req.Question)
	if err != nil {
		var imageErr *core.ImageError
		switch {
		case errors.Is(err, core.ErrEmptyQuestion):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: core.ErrEmptyQuestion.Error()})
		case errors.As(err, &imageErr):
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: imageErr.Message})
		default:
			s.log.Error("answering question", sl.Err(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: core.ErrAgent.Error()})
		}
	}
	return c.JSON(http.StatusOK, answer)
}

// GenerateImage handles POST /api/generate-image
func (s *Server) GenerateImage(c echo.Context) error {
	var req imageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: errBadRequest})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: core.ErrEmptyPrompt.Error()})
	}

	res := s.service.GenerateImage(req.Prompt)
	if res.Failed() {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: res.Error})
	}
	return c.JSON(http.StatusOK, core.ImageResult{ImageURL: res.ImageURL})
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log := s.log.With(
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			)
			if v.Error != nil {
				log.Error("request", sl.Err(v.Error))
				return nil
			}
			log.Debug("request")
			return nil
		},
	})
}

func (s *Server) instrumented(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)

		status := c.Response().Status
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request().Method, route, strconv.Itoa(status), time.Since(started).Seconds())
		return err
	}
}
