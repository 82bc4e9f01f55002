package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/lock"
	"github.com/tse-report-engine/internal/middleware"
	"github.com/tse-report-engine/internal/service"
)

// HealthChecker reports whether a backing dependency answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services are the engine operations exposed over HTTP. Database is
// optional; the in-memory store has nothing to ping.
type Services struct {
	Reports   *service.ReportService
	Importer  *service.Importer
	Defaults  *service.DefaultResultService
	Lifecycle *service.LifecycleService
	Database  HealthChecker
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	services      Services
	locker        lock.Locker
	gatherer      prometheus.Gatherer
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance. gatherer may be nil, in
// which case /metrics serves the default registry.
func NewServer(configManager domain.ConfigManager, logger *logrus.Logger, services Services, locker lock.Locker, gatherer prometheus.Gatherer) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))

	server := &Server{
		configManager: configManager,
		logger:        logger,
		services:      services,
		locker:        locker,
		gatherer:      gatherer,
		router:        router,
	}
	server.setupRoutes()
	return server
}

// Handler returns the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/reports/import", s.handleImport)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.POST("/reports/:id/amend", s.locked(s.handleAmend))
		v1.POST("/reports/:id/copy", s.locked(s.handleCopy))
		v1.POST("/reports/:id/refresh", s.handleRefresh)
		v1.POST("/reports/:id/validate", s.locked(s.handleValidate))

		v1.POST("/summaries/:id/default-cases", s.lockedOwner(domain.KindSummary, s.handleCreateCases))
		v1.GET("/cases/:id/default-rule", s.handleResolve)
		v1.POST("/cases/:id/default-results", s.lockedOwner(domain.KindCase, s.handleCreateDefaults))

		v1.POST("/aggregates/send", s.handleSend)
		v1.POST("/aggregates/submit", s.handleSubmit)
		v1.GET("/collections/:dcCode/amendable", s.handleAmendable)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.services.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.services.Database.Health(ctx); err != nil {
			s.logger.WithError(err).Warn("Database health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"database":  err.Error(),
				"timestamp": time.Now(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// locked runs the handler while holding the lock of the report in the path.
func (s *Server) locked(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.pathID(c)
		if !ok {
			return
		}
		release, err := s.lockReports(c.Request.Context(), []int64{id})
		if err != nil {
			s.writeError(c, err)
			return
		}
		defer release()
		handler(c)
	}
}

// lockedOwner runs the handler while holding the lock of the report that
// owns the summary or case in the path.
func (s *Server) lockedOwner(kind domain.Kind, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.pathID(c)
		if !ok {
			return
		}
		reportID, err := s.services.Defaults.ReportOf(c.Request.Context(), kind, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		release, err := s.lockReports(c.Request.Context(), []int64{reportID})
		if err != nil {
			s.writeError(c, err)
			return
		}
		defer release()
		handler(c)
	}
}

// lockReports locks every distinct id in ascending order. On failure the
// locks already taken are released.
func (s *Server) lockReports(ctx context.Context, ids []int64) (lock.Release, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var releases []lock.Release
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range ids {
		r, err := s.locker.Acquire(ctx, id)
		if err != nil {
			release()
			return nil, err
		}
		releases = append(releases, r)
	}
	return release, nil
}

func (s *Server) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(c, domain.NewValidationError("id", "invalid id", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) loadReport(c *gin.Context) (*domain.Report, bool) {
	id, ok := s.pathID(c)
	if !ok {
		return nil, false
	}
	report, err := s.services.Reports.GetReport(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return report, true
}

func (s *Server) handleImport(c *gin.Context) {
	var dataset domain.Dataset
	if err := c.ShouldBindJSON(&dataset); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	if dataset.SenderDatasetID == "" {
		s.writeError(c, domain.NewValidationError("senderDatasetId", "sender dataset id is required", nil))
		return
	}

	res, err := s.services.Importer.ImportDataset(c.Request.Context(), &dataset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, ok := s.loadReport(c)
	if !ok {
		return
	}
	tree, err := s.services.Reports.GetTree(c.Request.Context(), report)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) handleAmend(c *gin.Context) {
	report, ok := s.loadReport(c)
	if !ok {
		return
	}
	amended, stats, err := s.services.Reports.Amend(c.Request.Context(), report)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": amended, "cloned": stats})
}

type copyRequest struct {
	SourceID int64  `json:"source_id" binding:"required"`
	Mode     string `json:"mode"`
}

func (s *Server) handleCopy(c *gin.Context) {
	target, ok := s.loadReport(c)
	if !ok {
		return
	}
	var req copyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	mode, err := service.ParseCloneMode(req.Mode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	source, err := s.services.Reports.GetReport(c.Request.Context(), req.SourceID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	stats, err := s.services.Reports.CopyReport(c.Request.Context(), source, target, mode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": target, "cloned": stats})
}

// handleRefresh refreshes the report status. The report, its aggregator and
// the sibling members are locked since the refresh may change them all.
// With async=true the refresh runs in the background and 202 is returned.
func (s *Server) handleRefresh(c *gin.Context) {
	report, ok := s.loadReport(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	scope, err := s.services.Lifecycle.RefreshScope(ctx, report)
	if err != nil {
		s.writeError(c, err)
		return
	}
	release, err := s.lockReports(ctx, scope)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if !service.CanRefresh([]*domain.Report{report}) {
		release()
		s.writeError(c, fmt.Errorf("report %d is %s: %w", report.RecordID(), report.Status, domain.ErrInvalidStatus))
		return
	}

	if c.Query("async") != "true" {
		defer release()
		refreshed, err := s.services.Lifecycle.RefreshStatus(ctx, report)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, refreshed)
		return
	}

	requestID := c.GetString(middleware.CorrelationKey)
	s.services.Lifecycle.RefreshAsync(context.WithoutCancel(ctx), report, func(refreshed *domain.Report, err error) {
		defer release()
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"correlation_id": requestID,
				"report_id":      refreshed.RecordID(),
				"status":         refreshed.Status,
			}).Info("Background refresh finished")
		}
	})
	c.JSON(http.StatusAccepted, gin.H{"report_id": report.RecordID(), "locked": len(scope)})
}

func (s *Server) handleValidate(c *gin.Context) {
	report, ok := s.loadReport(c)
	if !ok {
		return
	}
	issues, err := s.services.Reports.UpdateChildrenErrors(c.Request.Context(), report)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(issues) == 0, "issues": issues})
}

func (s *Server) handleResolve(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	rule, err := s.services.Defaults.ResolveForRecord(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleCreateCases(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	cases, err := s.services.Defaults.CreateForSummary(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cases": cases, "created": len(cases)})
}

func (s *Server) handleCreateDefaults(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	results, err := s.services.Defaults.CreateForCase(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"results": results, "created": len(results)})
}

type reportsRequest struct {
	ReportIDs []int64 `json:"report_ids" binding:"required,min=1"`
}

// bindReports locks the distinct reports of the request body and loads
// them. The returned release frees every lock taken.
func (s *Server) bindReports(c *gin.Context) ([]*domain.Report, lock.Release, bool) {
	var req reportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return nil, nil, false
	}
	ctx := c.Request.Context()

	release, err := s.lockReports(ctx, req.ReportIDs)
	if err != nil {
		s.writeError(c, err)
		return nil, nil, false
	}

	seen := make(map[int64]bool, len(req.ReportIDs))
	reports := make([]*domain.Report, 0, len(req.ReportIDs))
	for _, id := range req.ReportIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		report, err := s.services.Reports.GetReport(ctx, id)
		if err != nil {
			release()
			s.writeError(c, err)
			return nil, nil, false
		}
		reports = append(reports, report)
	}
	return reports, release, true
}

func (s *Server) handleSend(c *gin.Context) {
	reports, release, ok := s.bindReports(c)
	if !ok {
		return
	}
	defer release()

	sent, err := s.services.Lifecycle.SendAggregate(c.Request.Context(), reports)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sent)
}

func (s *Server) handleSubmit(c *gin.Context) {
	reports, release, ok := s.bindReports(c)
	if !ok {
		return
	}
	defer release()

	submitted, err := s.services.Lifecycle.SubmitAggregate(c.Request.Context(), reports)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, submitted)
}

func (s *Server) handleAmendable(c *gin.Context) {
	reports, aggregator, err := s.services.Lifecycle.AmendableReports(c.Request.Context(), c.Param("dcCode"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports":     reports,
		"aggregator":  aggregator,
		"can_send":    service.CanAllBeSent(reports),
		"can_submit":  service.CanAllBeSubmitted(reports),
		"can_refresh": service.CanRefresh(reports),
	})
}
