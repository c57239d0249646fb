package api

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/task"
	"github.com/cuemby/onboard/pkg/types"
	"github.com/cuemby/onboard/pkg/validator"
)

// BasePath is the root of the onboarding routes
const BasePath = "/declarative-onboarding"

// Submitter runs declarations
type Submitter interface {
	Submit(ctx context.Context, req *types.Request) (*types.Task, error)
}

// TaskReader exposes task state for polling
type TaskReader interface {
	GetTask(id string) (*types.Task, error)
	ListTasks() []*types.Task
	MostRecentTask() *types.Task
}

// Server is the HTTP API
type Server struct {
	engine  *gin.Engine
	handler http.Handler
	onboard Submitter
	tasks   TaskReader
	version string
	logger  zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates the API server and registers every route
func NewServer(onboard Submitter, tasks TaskReader, version string) *Server {
	engine := gin.New()
	s := &Server{
		engine:  engine,
		handler: engine,
		onboard: onboard,
		tasks:   tasks,
		version: version,
		logger:  log.WithComponent("api"),
	}

	engine.Use(gin.Recovery(), s.requestLogger(), metricsMiddleware())

	group := engine.Group(BasePath)
	group.POST("", s.submit)
	group.GET("", s.mostRecent)
	group.GET("/task", s.listTasks)
	group.GET("/task/:id", s.getTask)
	group.GET("/info", s.info)

	engine.GET("/health", healthHandler)
	engine.GET("/ready", readyHandler)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	return s
}

// WithCORS lets browsers on the given origins call the API. "*" allows any
// origin. An empty list leaves CORS off.
func (s *Server) WithCORS(origins []string) *Server {
	if len(origins) == 0 {
		s.handler = s.engine
		return s
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.engine)
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until Shutdown. A nil cert serves plain HTTP.
func (s *Server) Start(addr string, cert *tls.Certificate) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cert != nil {
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("address", addr).Bool("tls", cert != nil).Msg("API server listening")

	var err error
	if cert != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ErrorResponse is the body of every failure that has no task
type ErrorResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) submit(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "failed to read body", Errors: []string{err.Error()}})
		return
	}
	req, err := types.ParseRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "bad declaration", Errors: []string{err.Error()}})
		return
	}

	t, err := s.onboard.Submit(c.Request.Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to submit declaration")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: http.StatusInternalServerError, Message: "failed to create task", Errors: []string{err.Error()}})
		return
	}
	c.JSON(StatusCode(t), newTaskResponse(t, false))
}

func (s *Server) mostRecent(c *gin.Context) {
	t := s.tasks.MostRecentTask()
	if t == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: "no task has been submitted"})
		return
	}
	c.JSON(StatusCode(t), newTaskResponse(t, showFull(c)))
}

func (s *Server) listTasks(c *gin.Context) {
	full := showFull(c)
	tasks := s.tasks.ListTasks()
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskResponse(t, full))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.tasks.GetTask(c.Param("id"))
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: "task not found", Errors: []string{err.Error()}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: http.StatusInternalServerError, Message: err.Error()})
		return
	}
	c.JSON(StatusCode(t), newTaskResponse(t, showFull(c)))
}

// InfoResponse describes the agent and the schema versions it accepts
type InfoResponse struct {
	Version        string   `json:"version"`
	SchemaCurrent  string   `json:"schemaCurrent"`
	SchemaMinimum  string   `json:"schemaMinimum"`
	SchemaVersions []string `json:"schemaVersions"`
}

func (s *Server) info(c *gin.Context) {
	versions := validator.SchemaVersions
	c.JSON(http.StatusOK, InfoResponse{
		Version:        s.version,
		SchemaCurrent:  versions[0],
		SchemaMinimum:  versions[len(versions)-1],
		SchemaVersions: versions,
	})
}

func showFull(c *gin.Context) bool {
	return c.Query("show") == "full"
}
