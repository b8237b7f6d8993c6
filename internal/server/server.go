// Package server exposes the reconciliation engine over HTTP/JSON. The wire
// shape keeps the Spanish field names the accounting clients consume.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/internal/reconciler"
	"cfdi-reconciler/internal/storage"
	"cfdi-reconciler/pkg/errors"
	"cfdi-reconciler/pkg/logger"
)

// Server wires the HTTP routes to the reconciliation service.
type Server struct {
	service *reconciler.Service
	logger  logger.Logger
	router  *gin.Engine
}

// New creates a Server with its routes registered.
func New(service *reconciler.Service, log logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		service: service,
		logger:  log.WithComponent("http"),
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP listener on the given address.
func (s *Server) Run(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP server listening")
	return s.router.Run(addr)
}

func corsMiddleware() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	return cors.New(config)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		}).Info("Request handled")
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1")
	{
		api.POST("/conciliacion", s.executeReconciliation)
		api.GET("/conciliacion/:rfc", s.companyRuns)
		api.GET("/conciliacion/:rfc/reporte", s.runReport)
		api.POST("/estados-cuenta", s.ingestStatement)
		api.GET("/movimientos", s.queryMovements)
		api.PATCH("/movimientos/:id/asignar", s.assignManual)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// executeReconciliation runs the pipeline for one (company, month, year)
// scope. A scope already held by another run answers 409 so the client can
// offer a reprocess confirmation.
func (s *Server) executeReconciliation(c *gin.Context) {
	var req reconciler.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidationError(errors.CodeInvalidRequest, err.Error()))
		return
	}

	summary, err := s.service.Reconcile(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exito":                 true,
		"mensaje":               "Conciliacion completada",
		"estadisticas":          summary.Stats,
		"alertas_criticas":      summary.Alerts,
		"sugerencias":           summary.Suggestions,
		"fecha_proceso":         summary.Run.StartedAt.Format(time.RFC3339),
		"tiempo_total_segundos": summary.Stats.ElapsedSeconds,
	})
}

func (s *Server) companyRuns(c *gin.Context) {
	runs, err := s.service.CompanyRuns(c.Request.Context(), c.Param("rfc"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exito": true, "procesos": runs})
}

func (s *Server) runReport(c *gin.Context) {
	var query struct {
		Month int `form:"mes" binding:"required"`
		Year  int `form:"anio" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		s.respondError(c, errors.NewValidationError(errors.CodeInvalidRequest, err.Error()))
		return
	}

	run, err := s.service.RunReport(c.Request.Context(), c.Param("rfc"), query.Month, query.Year)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exito": true, "proceso": run})
}

func (s *Server) ingestStatement(c *gin.Context) {
	var req reconciler.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidationError(errors.CodeInvalidRequest, err.Error()))
		return
	}

	result, err := s.service.IngestStatement(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"exito":                 true,
		"mensaje":               "Estado de cuenta procesado",
		"archivo":               result.File,
		"movimientos_guardados": result.Movements,
		"errores_filas":         result.RowErrors,
	})
}

// movementQuery binds the movement list filters from the query string.
type movementQuery struct {
	CompanyID string `form:"rfc_empresa" binding:"required"`
	Status    string `form:"estado"`
	Direction string `form:"tipo"`
	DateFrom  string `form:"fecha_inicio"`
	DateTo    string `form:"fecha_fin"`
	AmountMin string `form:"monto_min"`
	AmountMax string `form:"monto_max"`
	Page      int    `form:"pagina,default=1"`
	PerPage   int    `form:"por_pagina,default=50"`
}

func (s *Server) queryMovements(c *gin.Context) {
	var query movementQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		s.respondError(c, errors.NewValidationError(errors.CodeInvalidRequest, err.Error()))
		return
	}

	filter, err := buildFilter(query)
	if err != nil {
		s.respondError(c, err)
		return
	}

	movements, total, err := s.service.QueryMovements(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exito":       true,
		"movimientos": movements,
		"total":       total,
		"pagina":      query.Page,
		"por_pagina":  query.PerPage,
	})
}

func buildFilter(query movementQuery) (storage.MovementFilter, error) {
	filter := storage.MovementFilter{
		CompanyID: query.CompanyID,
		Status:    models.MovementStatus(query.Status),
		Direction: models.MovementDirection(query.Direction),
	}
	if query.Status != "" && !filter.Status.IsValid() {
		return filter, errors.NewValidationError(errors.CodeInvalidRequest,
			"estado must be pendiente, conciliado or manual")
	}
	if query.Direction != "" && !filter.Direction.IsValid() {
		return filter, errors.NewValidationError(errors.CodeInvalidRequest,
			"tipo must be cargo or abono")
	}

	if query.DateFrom != "" {
		date, err := models.ParseMovementDate(query.DateFrom)
		if err != nil {
			return filter, errors.NewValidationError(errors.CodeInvalidRequest, "invalid fecha_inicio")
		}
		filter.DateFrom = &date
	}
	if query.DateTo != "" {
		date, err := models.ParseMovementDate(query.DateTo)
		if err != nil {
			return filter, errors.NewValidationError(errors.CodeInvalidRequest, "invalid fecha_fin")
		}
		filter.DateTo = &date
	}
	if query.AmountMin != "" {
		amount, err := decimal.NewFromString(query.AmountMin)
		if err != nil {
			return filter, errors.NewValidationError(errors.CodeInvalidRequest, "invalid monto_min")
		}
		filter.AmountMin = &amount
	}
	if query.AmountMax != "" {
		amount, err := decimal.NewFromString(query.AmountMax)
		if err != nil {
			return filter, errors.NewValidationError(errors.CodeInvalidRequest, "invalid monto_max")
		}
		filter.AmountMax = &amount
	}

	if query.PerPage < 1 || query.PerPage > 500 {
		query.PerPage = 50
	}
	if query.Page < 1 {
		query.Page = 1
	}
	filter.Limit = query.PerPage
	filter.Offset = (query.Page - 1) * query.PerPage
	return filter, nil
}

func (s *Server) assignManual(c *gin.Context) {
	var req struct {
		InvoiceUUID string `json:"cfdi_uuid" binding:"required"`
		Notes       string `json:"notas"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidationError(errors.CodeInvalidRequest, err.Error()))
		return
	}

	movement, err := s.service.AssignManual(c.Request.Context(), c.Param("id"), req.InvoiceUUID, req.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exito":      true,
		"mensaje":    "Movimiento asignado manualmente",
		"movimiento": movement,
	})
}

// respondError maps the error taxonomy to HTTP statuses. Conflicts answer
// 409 so clients can distinguish a held run scope or duplicate file from a
// generic failure.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsConflict(err):
		status = http.StatusConflict
	}

	body := gin.H{
		"exito":   false,
		"mensaje": err.Error(),
		"codigo":  string(errors.GetCode(err)),
	}
	if re, ok := err.(*errors.ReconcilerError); ok {
		body["mensaje"] = re.Message
		if re.Suggestion != "" {
			body["sugerencia"] = re.Suggestion
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	c.JSON(status, body)
}
