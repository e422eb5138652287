package dashboard

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RohitKumar027/ReliabilityPortal/internal/alert"
	"github.com/RohitKumar027/ReliabilityPortal/internal/intake"
	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/results"
	"github.com/RohitKumar027/ReliabilityPortal/internal/supervisor"
)

type api struct {
	sup       *supervisor.Supervisor
	alerts    AlertLog
	log       *slog.Logger
	poll      time.Duration
	heartbeat time.Duration
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, a *api) {
	router.GET("/healthz", a.handleHealth)

	g := router.Group("/api")
	g.GET("/dashboard", a.handleDashboard)
	g.GET("/active-tests", a.handleActiveTests)
	g.GET("/queue", a.handleQueue)
	g.GET("/catalog", a.handleCatalog)

	g.GET("/machines", a.handleMachines)
	g.POST("/machines", a.handleAddMachine)
	g.DELETE("/machines/:id", a.handleRemoveMachine)

	g.GET("/technicians", a.handleTechnicians)
	g.POST("/technicians", a.handleAddTechnician)
	g.DELETE("/technicians/:id", a.handleRemoveTechnician)

	g.GET("/requests", a.handleRequests)
	g.GET("/requests/:id", a.handleRequest)
	g.POST("/requests", a.handleSubmit)
	g.POST("/results", a.handleRecord)
	g.POST("/schedule", a.handleSchedule)

	g.GET("/alerts", a.handleAlerts)
	g.POST("/alerts/:id/ack", a.handleAcknowledge)
	g.GET("/events", a.handleSSE)
}

func (a *api) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *api) handleDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Dashboard())
}

func (a *api) handleActiveTests(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.ActiveTests())
}

func (a *api) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Queue())
}

func (a *api) handleCatalog(c *gin.Context) {
	cat := a.sup.Catalog()
	out := make(map[string][]lab.TestDefinition)
	for _, name := range cat.Categories() {
		out[name] = cat.Tests(name)
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) handleMachines(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Machines())
}

func (a *api) handleAddMachine(c *gin.Context) {
	var m lab.Machine
	if !bind(c, &m) {
		return
	}
	res, err := a.sup.AddMachine(c.Request.Context(), m)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"machine": m, "pass": res})
}

func (a *api) handleRemoveMachine(c *gin.Context) {
	if err := a.sup.RemoveMachine(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) handleTechnicians(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Technicians())
}

func (a *api) handleAddTechnician(c *gin.Context) {
	var t lab.Technician
	if !bind(c, &t) {
		return
	}
	res, err := a.sup.AddTechnician(c.Request.Context(), t)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"technician": t, "pass": res})
}

func (a *api) handleRemoveTechnician(c *gin.Context) {
	if err := a.sup.RemoveTechnician(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) handleRequests(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Requests())
}

func (a *api) handleRequest(c *gin.Context) {
	req, ok := a.sup.Request(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) handleSubmit(c *gin.Context) {
	var sub intake.Submission
	if !bind(c, &sub) {
		return
	}
	req, res, err := a.sup.SubmitRequest(c.Request.Context(), sub)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": req, "pass": res})
}

func (a *api) handleRecord(c *gin.Context) {
	var in results.Input
	if !bind(c, &in) {
		return
	}
	rec, res, err := a.sup.RecordResult(c.Request.Context(), in)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": rec, "pass": res})
}

func (a *api) handleSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.SchedulePass(c.Request.Context()))
}

func (a *api) handleAlerts(c *gin.Context) {
	if a.alerts == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	unacked := c.Query("unacked") == "true"
	list, err := a.alerts.List(c.Request.Context(), unacked, limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) handleAcknowledge(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if a.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err := a.alerts.Acknowledge(c.Request.Context(), uint(id)); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bind decodes the JSON body and answers 400 itself on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// fail maps domain errors onto HTTP status codes.
func (a *api) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, intake.ErrValidation),
		errors.Is(err, results.ErrValidation),
		errors.Is(err, registry.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, results.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, alert.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicate),
		errors.Is(err, registry.ErrMachineInUse),
		errors.Is(err, registry.ErrTechnicianBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
