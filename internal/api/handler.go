// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api exposes the engine, fault injection and validator over HTTP
// and streams lifecycle events to websocket clients.
package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/internal/bridge"
	"github.com/Thermoquad/furrow/pkg/engine"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/validation"
)

const (
	defaultLinkTimeout = 2 * time.Second
	maxLinkTimeout     = 30 * time.Second
	cborContentType    = "application/cbor"
)

// Handler serves the HTTP API
type Handler struct {
	logger    *zap.Logger
	engine    *engine.Engine
	catalog   *route.Catalog
	injector  *faults.Injector
	injected  *inject.Registry
	validator *validation.Validator
	link      *bridge.Bridge
	hub       *Hub
	upgrader  websocket.Upgrader
}

// NewHandler creates a handler. link may be nil when no hardware is attached.
func NewHandler(
	logger *zap.Logger,
	eng *engine.Engine,
	catalog *route.Catalog,
	injector *faults.Injector,
	injected *inject.Registry,
	validator *validation.Validator,
	link *bridge.Bridge,
	hub *Hub,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:    logger.Named("api"),
		engine:    eng,
		catalog:   catalog,
		injector:  injector,
		injected:  injected,
		validator: validator,
		link:      link,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts every endpoint on r
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// Routes
		api.GET("/routes", h.ListRoutes)
		api.GET("/routes/:id", h.GetRoute)
		api.POST("/routes/:id/start", h.StartRoute)

		// Robot
		api.GET("/robot/state", h.GetState)
		api.GET("/robot/log", h.GetLog)
		api.POST("/robot/stop", h.StopRoute)
		api.POST("/robot/emergency-stop", h.EmergencyStop)
		api.POST("/robot/reset", h.ResetPosition)

		// Hardware
		api.PUT("/hardware/mode", h.SetHardwareMode)
		api.GET("/hardware/status", h.HardwareStatus)
		api.POST("/hardware/test", h.TestLink)

		// Fault injection
		api.GET("/faults", h.GetFaults)
		api.PUT("/faults", h.SetFaults)
		api.DELETE("/faults", h.ClearFaults)
		api.GET("/faults/scenarios", h.ListScenarios)
		api.POST("/faults/scenarios/:name", h.ApplyScenario)

		// Injected events
		api.POST("/events/environment", h.InjectEnvironment)
		api.POST("/events/fault", h.InjectFault)
		api.POST("/events/magnet-shift", h.InjectMagnetShift)
		api.POST("/events/emergency-stop", h.InjectEmergencyStop)
		api.GET("/events/active", h.ActiveEvents)
		api.GET("/events/history", h.EventHistory)
		api.GET("/events/export", h.ExportEvents)
		api.DELETE("/events/:eventId", h.RemoveEvent)
		api.DELETE("/events", h.ClearEvents)

		// Validation
		api.POST("/validation/validate", h.Validate)
		api.POST("/validation/validate-last", h.ValidateLast)
		api.GET("/validation/results", h.ListResults)
		api.GET("/validation/results/:id", h.GetResult)
		api.GET("/validation/golden/:routeId", h.GetGoldenRun)
		api.PUT("/validation/golden/:routeId", h.SaveGoldenRun)
		api.GET("/validation/export", h.Export)
		api.POST("/validation/import", h.Import)
	}

	r.GET("/ws", h.HandleWebSocket)
	r.GET("/health", h.HealthCheck)
}

func routeID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid route ID"})
		return 0, false
	}
	return id, true
}

// ============================================================
// Routes and robot
// ============================================================

// ListRoutes returns the catalog
func (h *Handler) ListRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.List())
}

// GetRoute returns one route definition
func (h *Handler) GetRoute(c *gin.Context) {
	id, ok := routeID(c)
	if !ok {
		return
	}
	def, found := h.catalog.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

// StartRoute starts a route. Unknown routes are 404, a busy robot is 409.
func (h *Handler) StartRoute(c *gin.Context) {
	id, ok := routeID(c)
	if !ok {
		return
	}
	if _, found := h.catalog.Get(id); !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Route not found"})
		return
	}
	if !h.engine.StartRoute(id) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Robot is already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StopRoute stops the active route
func (h *Handler) StopRoute(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": h.engine.StopRoute()})
}

// EmergencyStop latches an emergency stop; it always succeeds
func (h *Handler) EmergencyStop(c *gin.Context) {
	h.engine.EmergencyStop()
	h.logger.Warn("Emergency stop requested", zap.String("remote", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetPosition moves the robot back to the map centre
func (h *Handler) ResetPosition(c *gin.Context) {
	h.engine.ResetPosition()
	c.JSON(http.StatusOK, h.engine.State())
}

// GetState returns the robot state
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.State())
}

// GetLog returns the execution log of the current or last run
func (h *Handler) GetLog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"complete": h.engine.RunComplete(),
		"entries":  h.engine.ExecutionLog(),
	})
}

// ============================================================
// Hardware
// ============================================================

// SetHardwareMode switches between snapshot fusion and the synthetic model
func (h *Handler) SetHardwareMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected {\"enabled\": bool}"})
		return
	}
	h.engine.SetHardwareMode(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"hardwareMode": h.engine.HardwareMode()})
}

// HardwareStatus reports the link state
func (h *Handler) HardwareStatus(c *gin.Context) {
	resp := gin.H{"hardwareMode": h.engine.HardwareMode()}
	if h.link != nil {
		resp["link"] = h.link.Status()
	} else {
		resp["link"] = bridge.Status{}
	}
	c.JSON(http.StatusOK, resp)
}

// TestLink waits for a valid frame; timeout is in ms
func (h *Handler) TestLink(c *gin.Context) {
	if h.link == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "No hardware link configured"})
		return
	}
	timeout := defaultLinkTimeout
	if s := c.Query("timeout"); s != "" {
		ms, err := strconv.Atoi(s)
		if err != nil || ms <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timeout"})
			return
		}
		timeout = min(time.Duration(ms)*time.Millisecond, maxLinkTimeout)
	}
	c.JSON(http.StatusOK, gin.H{"success": h.link.TestLink(c.Request.Context(), timeout)})
}

// ============================================================
// Fault injection
// ============================================================

// GetFaults returns the active fault configuration
func (h *Handler) GetFaults(c *gin.Context) {
	c.JSON(http.StatusOK, h.injector.Profile().Config())
}

// SetFaults validates and activates a fault configuration
func (h *Handler) SetFaults(c *gin.Context) {
	var cfg faults.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	p, err := h.injector.SetConfig(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("Fault profile updated", zap.Bool("enabled", p.Enabled()), zap.Int("faults", len(p.Faults())))
	c.JSON(http.StatusOK, p.Config())
}

// ClearFaults disables fault injection
func (h *Handler) ClearFaults(c *gin.Context) {
	h.injector.Clear()
	c.JSON(http.StatusOK, h.injector.Profile().Config())
}

// ListScenarios returns the named fault scenarios
func (h *Handler) ListScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, faults.Scenarios())
}

// ApplyScenario activates a named scenario
func (h *Handler) ApplyScenario(c *gin.Context) {
	p, err := faults.Scenario(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "available": faults.Scenarios()})
		return
	}
	h.injector.Set(p)
	c.JSON(http.StatusOK, p.Config())
}

// ============================================================
// Injected events
// ============================================================

// InjectEnvironment injects an obstacle, magnet shift, surface change or
// power fluctuation
func (h *Handler) InjectEnvironment(c *gin.Context) {
	var env inject.Environment
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ev, err := h.injected.InjectEnvironment(env)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventId": ev.ID, "event": ev})
}

// InjectFault injects a component fault
func (h *Handler) InjectFault(c *gin.Context) {
	var f inject.Fault
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ev, err := h.injected.InjectFault(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventId": ev.ID, "event": ev})
}

// InjectMagnetShift records a magnet dragged from one point to another
func (h *Handler) InjectMagnetShift(c *gin.Context) {
	var req struct {
		From *runlog.Point `json:"fromPosition"`
		To   *runlog.Point `json:"toPosition"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.From == nil || req.To == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fromPosition and toPosition are required"})
		return
	}
	ev, err := h.injected.InjectMagnetShift(*req.From, *req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventId": ev.ID, "event": ev})
}

// InjectEmergencyStop injects a critical fault on the emergency system
func (h *Handler) InjectEmergencyStop(c *gin.Context) {
	ev := h.injected.InjectEmergencyStop()
	c.JSON(http.StatusOK, gin.H{"eventId": ev.ID, "event": ev})
}

// ActiveEvents lists the injected events still in effect
func (h *Handler) ActiveEvents(c *gin.Context) {
	c.JSON(http.StatusOK, h.injected.Active())
}

// EventHistory lists injected events newest first; ?limit caps the count
func (h *Handler) EventHistory(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.injected.History(limit))
}

// ExportEvents returns the active and history lists
func (h *Handler) ExportEvents(c *gin.Context) {
	c.JSON(http.StatusOK, h.injected.Export())
}

// RemoveEvent ends one active event
func (h *Handler) RemoveEvent(c *gin.Context) {
	id := c.Param("eventId")
	if !h.injected.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event " + id + " not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// ClearEvents ends every active event
func (h *Handler) ClearEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": h.injected.Clear()})
}

// ============================================================
// Validation
// ============================================================

func (h *Handler) validationError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, validation.ErrMissingRouteID),
		errors.Is(err, validation.ErrMissingLog),
		errors.Is(err, validation.ErrMissingFinalState),
		errors.Is(err, validation.ErrInvalidCheckpoint),
		errors.Is(err, validation.ErrInvalidCertLevel),
		errors.Is(err, validation.ErrChecksumMismatch):
		status = http.StatusBadRequest
	default:
		h.logger.Error("Validation failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Validate scores a submitted execution
func (h *Handler) Validate(c *gin.Context) {
	var req validation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	res, err := h.validator.Validate(req)
	if err != nil {
		h.validationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "certified": res.Certified()})
}

// ValidateLast scores the engine's current or last run
func (h *Handler) ValidateLast(c *gin.Context) {
	var req struct {
		RouteID  string               `json:"routeId"`
		Metadata *validation.Metadata `json:"metadata"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	log := h.engine.ExecutionLog()
	if req.RouteID == "" {
		for _, e := range log {
			if e.Data != nil && e.Data.RouteID != nil {
				req.RouteID = strconv.Itoa(*e.Data.RouteID)
				break
			}
		}
	}
	final := h.engine.State()
	res, err := h.validator.Validate(validation.Request{
		RouteID:    req.RouteID,
		Log:        log,
		FinalState: &final,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.validationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "certified": res.Certified(), "complete": h.engine.RunComplete()})
}

// ListResults returns every stored result
func (h *Handler) ListResults(c *gin.Context) {
	c.JSON(http.StatusOK, h.validator.Results())
}

// GetResult returns a stored result
func (h *Handler) GetResult(c *gin.Context) {
	res, ok := h.validator.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetGoldenRun returns the golden run of a route
func (h *Handler) GetGoldenRun(c *gin.Context) {
	g, ok := h.validator.GoldenRun(c.Param("routeId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Golden run not found"})
		return
	}
	c.JSON(http.StatusOK, g)
}

// SaveGoldenRun stores a golden run; the route id comes from the path
func (h *Handler) SaveGoldenRun(c *gin.Context) {
	var req validation.GoldenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.RouteID = c.Param("routeId")
	g, err := h.validator.SaveGoldenRun(req)
	if err != nil {
		h.validationError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Export returns every result and golden run as CBOR, or JSON with
// ?format=json
func (h *Handler) Export(c *gin.Context) {
	exp := h.validator.Export()
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, exp)
		return
	}
	var buf bytes.Buffer
	if err := validation.EncodeExport(&buf, exp); err != nil {
		h.validationError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=furrow-validation.cbor")
	c.Data(http.StatusOK, cborContentType, buf.Bytes())
}

// Import loads golden runs from a CBOR export
func (h *Handler) Import(c *gin.Context) {
	exp, err := validation.DecodeExport(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validator.ImportGoldenRuns(exp.GoldenRuns); err != nil {
		h.validationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(exp.GoldenRuns)})
}

// ============================================================
// Websocket and health
// ============================================================

// HandleWebSocket upgrades the connection and attaches it to the hub
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	h.hub.Attach(conn)
}

// HealthCheck reports liveness
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"phase":      h.engine.Phase(),
		"ws_clients": h.hub.ClientCount(),
	})
}
