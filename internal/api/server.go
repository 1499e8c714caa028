package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/auth"
	"github.com/david/childcare-leads/internal/ingest"
	"github.com/david/childcare-leads/internal/metrics"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/store"
)

const (
	jobTimeout      = 30 * time.Minute
	maxScoreRecords = 500
)

// Runner starts a pipeline pass. *app.App implements it.
type Runner interface {
	Run(ctx context.Context, sources []string, dryRun bool) (ingest.RunReport, error)
}

// RecordScorer scores posted records without persisting them. *ingest.Pipeline implements it.
type RecordScorer interface {
	Score(ctx context.Context, raws []models.RawRecord) (ingest.ScoreReport, error)
}

// Deps is what the server needs. Store may be nil, in which case the read
// endpoints answer 503.
type Deps struct {
	Store       store.Store
	Runner      Runner
	Scorer      RecordScorer
	Auth        *auth.Service
	Logger      *zap.Logger
	CORSOrigins []string
}

type Server struct {
	Store       store.Store
	Runner      Runner
	Scorer      RecordScorer
	AuthService *auth.Service
	Echo        *echo.Echo
	Logger      *zap.Logger

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("request", fields...)
			return nil
		},
	}))

	allowedOrigins := []string{"http://localhost:4200"}
	for _, o := range deps.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.SecretHeader},
	}))

	s := &Server{
		Store:       deps.Store,
		Runner:      deps.Runner,
		Scorer:      deps.Scorer,
		AuthService: deps.Auth,
		Echo:        e,
		Logger:      logger,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/stats", s.handleGetStats)

	admin := api.Group("/admin")
	admin.Use(auth.Middleware(s.AuthService))
	admin.POST("/runs", s.handleTriggerRun)
	admin.GET("/jobs/:id", s.handleJobStatus)
	admin.POST("/score", s.handleScore)
	admin.POST("/token", s.handleIssueToken)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.Store == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "No store configured")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Store.ListRuns(c.Request().Context(), store.ClampLimit(limit))
	if err != nil {
		s.Logger.Error("failed to list runs", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.Store == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "No store configured")
	}
	run, err := s.Store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.Logger.Error("failed to get run", zap.String("id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, run)
}

// browser returns the store as a Browser, or writes the error response.
func (s *Server) browser(c echo.Context) (store.Browser, error) {
	if s.Store == nil {
		return nil, errorJSON(c, http.StatusServiceUnavailable, "No store configured")
	}
	b, ok := s.Store.(store.Browser)
	if !ok {
		return nil, errorJSON(c, http.StatusNotImplemented, "The configured store does not support queries")
	}
	return b, nil
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	b, err := s.browser(c)
	if b == nil {
		return err
	}

	params := store.ListParams{
		Query:    strings.TrimSpace(c.QueryParam("q")),
		Country:  c.QueryParam("country"),
		Province: c.QueryParam("province"),
		Category: models.Category(c.QueryParam("category")),
		Priority: models.Priority(c.QueryParam("priority")),
		RunID:    c.QueryParam("run_id"),
		Limit:    store.DefaultListLimit,
	}
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil && v > 0 {
		params.MinScore = v
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		params.Limit = store.ClampLimit(l)
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	result, err := b.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		s.Logger.Error("failed to list opportunities", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetStats(c echo.Context) error {
	b, err := s.browser(c)
	if b == nil {
		return err
	}
	overview, err := b.Overview(c.Request().Context())
	if err != nil {
		s.Logger.Error("failed to load overview", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, overview)
}

type runRequest struct {
	Sources []string `json:"sources"`
	DryRun  bool     `json:"dry_run"`
}

func (s *Server) handleTriggerRun(c echo.Context) error {
	if s.Runner == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "Pipeline not configured")
	}
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if v := c.QueryParam("sources"); v != "" {
		req.Sources = splitCSV(v)
	}
	if v := c.QueryParam("dry_run"); v != "" {
		req.DryRun, _ = strconv.ParseBool(v)
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "A pipeline run is already in progress",
			"job_id": job.ID,
		})
	}

	// Detached from the request so the run outlives it.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), jobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	log := s.Logger.With(zap.String("job_id", jobID))
	go func() {
		defer jobCancel()
		rep, err := s.Runner.Run(jobCtx, req.Sources, req.DryRun)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Result = map[string]any{
			"run":           rep.Run,
			"sources":       rep.Sources,
			"duplicates":    rep.Duplicates,
			"priorities":    rep.Priorities,
			"notifications": rep.Notifications,
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Error("pipeline job failed", zap.Error(err))
			return
		}
		job.Status = "completed"
		log.Info("pipeline job completed", zap.String("run_id", rep.Run.ID), zap.Int("saved", rep.Run.Saved))
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "Pipeline run started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/jobs/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

type scoreRequest struct {
	Records []models.RawRecord `json:"records"`
}

func (s *Server) handleScore(c echo.Context) error {
	if s.Scorer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "Scorer not configured")
	}
	var req scoreRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if len(req.Records) == 0 {
		return errorJSON(c, http.StatusBadRequest, "records required")
	}
	if len(req.Records) > maxScoreRecords {
		return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("at most %d records per request", maxScoreRecords))
	}

	rep, err := s.Scorer.Score(c.Request().Context(), req.Records)
	if err != nil {
		s.Logger.Error("failed to score records", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if rep.Records == nil {
		rep.Records = []models.Opportunity{}
	}
	return c.JSON(http.StatusOK, rep)
}

type tokenRequest struct {
	Subject string `json:"subject"`
}

func (s *Server) handleIssueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject, _ = auth.SubjectFromContext(c)
	}

	token, expires, err := s.AuthService.IssueToken(subject)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"subject":    subject,
		"expires_at": expires,
	})
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests and cancels an in-flight pipeline job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
