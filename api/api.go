package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/opsgate/releasegate/audit"
	"github.com/opsgate/releasegate/config"
	"github.com/opsgate/releasegate/db"
	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
	"github.com/opsgate/releasegate/registry"
	"github.com/opsgate/releasegate/report"
	"github.com/opsgate/releasegate/status"
)

const Version = "1.0.0"

type Server struct {
	config   *config.Config
	db       *db.Database
	platform gate.Platform
	verifier registry.Verifier
	auditor  *audit.Logger
	reports  *report.Store
	router   *gin.Engine
	logger   *slog.Logger
}

func NewServer(cfg *config.Config, database *db.Database, platform gate.Platform, verifier registry.Verifier) (*Server, error) {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := models.RegisterCustomValidations(v); err != nil {
			return nil, fmt.Errorf("failed to register validations: %w", err)
		}
	}

	logger := slog.Default()

	reports, err := report.NewStore(cfg.Reports.Dir, database)
	if err != nil {
		return nil, err
	}
	if arc := cfg.Reports.Archive; arc != nil {
		archive, err := report.NewS3Archive(context.Background(), arc.Bucket, arc.Prefix, arc.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to set up report archive: %w", err)
		}
		reports = reports.WithArchive(archive)
	}

	s := &Server{
		config:   cfg,
		db:       database,
		platform: platform,
		verifier: verifier,
		auditor:  audit.NewLogger(database, cfg.Audit.SinkURL, cfg.Audit.Token, logger),
		reports:  reports,
		router:   gin.Default(),
		logger:   logger,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	// Health check (no auth)
	s.router.GET("/health", s.handleHealth)

	// API routes (with auth)
	api := s.router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		api.GET("/services", s.handleListServices)
		api.GET("/services/:service/versions", s.handleListVersions)
		api.GET("/services/:service/deployments", s.handleGetDeployments)
		api.POST("/services/:service/deploy", s.handleDeploy)
		api.POST("/services/:service/rollback", s.handleRollback)

		api.GET("/services/:service/reports", s.handleGetReports)
		api.GET("/reports/:id", s.handleGetReport)
		api.GET("/audit", s.handleGetAudit)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		if !s.config.ValidateAPIKey(parts[1]) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	dbOK := s.db.Ping() == nil

	platformOK := true
	if s.platform != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		_, err := s.platform.HasSigningCredential(ctx)
		platformOK = err == nil
	}

	health := "healthy"
	if !dbOK || !platformOK {
		health = "degraded"
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:             health,
		Version:            Version,
		DatabaseAccessible: dbOK,
		PlatformAccessible: platformOK,
	})
}

// orchestratorFor wires a gate orchestrator for one configured service.
func (s *Server) orchestratorFor(svc *config.ServiceConfig) *gate.Orchestrator {
	return gate.New(svc.Gates, svc.ImageRepository, gate.Deps{
		Status:   status.NewClient(svc.StatusURL, svc.StatusToken),
		Platform: s.platform,
		Registry: s.verifierFor(svc),
		Auditor:  s.auditor,
		Reports:  s.reports,
		Leases:   s.db,
		Logger:   s.logger,
	})
}

// verifierFor honors per-service registry credentials over the shared
// verifier, matching how services override registry auth in config.
func (s *Server) verifierFor(svc *config.ServiceConfig) registry.Verifier {
	if svc.RegistryAuth != nil {
		return registry.NewClient(svc.RegistryAuth.Username, svc.RegistryAuth.Password)
	}
	return s.verifier
}

func (s *Server) handleListServices(c *gin.Context) {
	type serviceInfo struct {
		Name            string `json:"name"`
		Namespace       string `json:"namespace"`
		ImageRepository string `json:"image_repository"`
		CurrentVersion  string `json:"current_version,omitempty"`
	}

	services := make([]serviceInfo, 0, len(s.config.Services))
	for _, svc := range s.config.Services {
		info := serviceInfo{
			Name:            svc.Name,
			Namespace:       svc.Namespace,
			ImageRepository: svc.ImageRepository,
		}
		if current, err := s.db.GetCurrentDeployment(svc.Name, models.EnvironmentProduction); err == nil && current != nil {
			info.CurrentVersion = current.Version
		}
		services = append(services, info)
	}

	c.JSON(http.StatusOK, gin.H{"services": services})
}

func (s *Server) handleListVersions(c *gin.Context) {
	serviceName := c.Param("service")

	svc := s.config.GetService(serviceName)
	if svc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		return
	}

	limit := parseIntQuery(c, "limit", 20)
	versions, err := s.verifierFor(svc).ListVersions(svc.ImageRepository, limit)
	if err != nil {
		log.Printf("Error listing versions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list versions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": serviceName, "versions": versions})
}

func (s *Server) handleDeploy(c *gin.Context) {
	serviceName := c.Param("service")

	var req models.DeployAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	svc := s.config.GetService(serviceName)
	if svc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		return
	}

	gateReq := models.DeploymentRequest{
		Service:        serviceName,
		Version:        req.Version,
		ChangeControl:  req.ChangeControl,
		ValidatedBy:    req.ValidatedBy,
		Strategy:       models.Strategy(req.Strategy),
		Environment:    models.Environment(req.Environment),
		SkipValidation: req.SkipValidation,
	}
	if gateReq.Strategy == "" {
		gateReq.Strategy = models.StrategyRolling
	}
	if gateReq.Environment == "" {
		gateReq.Environment = models.EnvironmentProduction
	}

	orchestrator := s.orchestratorFor(svc)
	rpt, err := orchestrator.Run(c.Request.Context(), gateReq)

	s.recordRun(rpt, gateReq, "deploy", err)
	s.respondRun(c, rpt, err)
}

func (s *Server) handleRollback(c *gin.Context) {
	serviceName := c.Param("service")

	var req models.RollbackAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	svc := s.config.GetService(serviceName)
	if svc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		return
	}

	environment := models.Environment(req.Environment)
	if environment == "" {
		environment = models.EnvironmentProduction
	}

	// If no version specified, restore the previous successful deployment
	// in this environment. Failed attempts are not rollback targets.
	targetVersion := req.Version
	if targetVersion == "" {
		prev, err := s.db.GetPreviousSuccessfulDeployment(serviceName, environment)
		if err != nil {
			log.Printf("Error getting deployments for rollback: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve deployment history"})
			return
		}
		if prev == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no previous successful deployment found"})
			return
		}
		targetVersion = prev.Version
	}

	gateReq := models.DeploymentRequest{
		Service:       serviceName,
		Version:       targetVersion,
		ChangeControl: req.ChangeControl,
		ValidatedBy:   req.ValidatedBy,
		Strategy:      models.StrategyRolling,
		Environment:   environment,
	}

	orchestrator := s.orchestratorFor(svc)
	rpt, err := orchestrator.RunRollback(c.Request.Context(), gateReq)

	s.recordRun(rpt, gateReq, "rollback", err)
	s.respondRun(c, rpt, err)
}

// recordRun writes the deployment history row for a finished pipeline run.
// Precondition and lease failures produce no report and no row.
func (s *Server) recordRun(rpt *models.ComplianceReport, req models.DeploymentRequest, deployType string, runErr error) {
	if rpt == nil {
		return
	}

	dbStatus := "success"
	if runErr != nil {
		dbStatus = "failed"
		if rpt.RolledBack {
			dbStatus = "rolled_back"
		}
	}

	dep := &models.Deployment{
		ID:            rpt.DeploymentID,
		Service:       req.Service,
		Version:       req.Version,
		Environment:   req.Environment,
		Strategy:      req.Strategy,
		ChangeControl: req.ChangeControl,
		DeployedBy:    req.ValidatedBy,
		Status:        dbStatus,
		Type:          deployType,
		ReportID:      rpt.ID,
		DeployedAt:    rpt.StartedAt,
	}
	if err := s.db.CreateDeployment(dep); err != nil {
		log.Printf("Error recording deployment %s: %v", dep.ID, err)
	}
}

func (s *Server) respondRun(c *gin.Context, rpt *models.ComplianceReport, err error) {
	if err == nil {
		c.JSON(http.StatusOK, models.DeployAPIResponse{
			DeploymentID:     rpt.DeploymentID,
			Service:          rpt.Service,
			Version:          rpt.Version,
			ComplianceStatus: rpt.ComplianceStatus,
			Report:           rpt,
		})
		return
	}

	kind := gate.FailureKind(err)
	switch kind {
	case gate.KindMissingChangeControl, gate.KindMissingValidator:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "failure_kind": string(kind)})
		return
	case gate.KindDeploymentInProgress:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "failure_kind": string(kind)})
		return
	case gate.KindLeaseUnavailable:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "failure_kind": string(kind)})
		return
	}

	resp := models.DeployAPIResponse{
		ComplianceStatus: models.StatusNonCompliant,
		FailureKind:      string(kind),
	}
	if rpt != nil {
		resp.DeploymentID = rpt.DeploymentID
		resp.Service = rpt.Service
		resp.Version = rpt.Version
		resp.ComplianceStatus = rpt.ComplianceStatus
		resp.Report = rpt
	}
	c.JSON(http.StatusUnprocessableEntity, resp)
}

func (s *Server) handleGetDeployments(c *gin.Context) {
	serviceName := c.Param("service")

	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	deployments, total, err := s.db.GetDeployments(serviceName, limit, offset)
	if err != nil {
		log.Printf("Error getting deployments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve deployments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service":     serviceName,
		"deployments": deployments,
		"total":       total,
	})
}

func (s *Server) handleGetReports(c *gin.Context) {
	serviceName := c.Param("service")

	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	reports, total, err := s.db.GetReports(serviceName, limit, offset)
	if err != nil {
		log.Printf("Error getting reports: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"reports": reports,
		"total":   total,
	})
}

func (s *Server) handleGetReport(c *gin.Context) {
	rpt, err := s.db.GetReport(c.Param("id"))
	if err != nil {
		if err.Error() == "report not found" {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		log.Printf("Error getting report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve report"})
		return
	}

	c.JSON(http.StatusOK, rpt)
}

func (s *Server) handleGetAudit(c *gin.Context) {
	changeControl := c.Query("change_control")
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)

	entries, total, err := s.db.GetAuditEntries(changeControl, limit, offset)
	if err != nil {
		log.Printf("Error getting audit entries: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve audit entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
	})
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	log.Printf("Listening on %s", addr)
	return s.router.Run(addr)
}
