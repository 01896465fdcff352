package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	dateLayout   = "2006-01-02"
	cutoffLayout = "2006-01-02T15:04:05"
)

// BarHandler serves bar series and session layouts.
type BarHandler struct {
	reg      *instrument.Registry
	loader   *bar.Loader
	sessions *session.Calculator
	logger   *zap.Logger
}

func NewBarHandler(reg *instrument.Registry, loader *bar.Loader, sessions *session.Calculator, logger *zap.Logger) *BarHandler {
	return &BarHandler{reg: reg, loader: loader, sessions: sessions, logger: logger}
}

type barsQuery struct {
	Instrument string `form:"instrument" binding:"required"`
	Level      string `form:"level" binding:"required"`
	Start      string `form:"start" binding:"required,datetime=2006-01-02"`
	End        string `form:"end" binding:"required,datetime=2006-01-02"`
	Cutoff     string `form:"cutoff" binding:"omitempty,datetime=2006-01-02T15:04:05"`
}

type sessionQuery struct {
	Instrument string `form:"instrument" binding:"required"`
	Day        string `form:"day" binding:"required,datetime=2006-01-02"`
}

type sessionView struct {
	Instrument   string            `json:"instrument"`
	Day          string            `json:"day"`
	Segments     []session.Segment `json:"segments"`
	TotalSeconds int64             `json:"total_seconds"`
	Bars         map[string]int    `json:"bars"`
}

// GetBars loads a bar series.
// GET /api/v1/bars
func (h *BarHandler) GetBars(c *gin.Context) {
	var q barsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level, err := bar.ParseLevel(q.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, ok := h.resolve(c, q.Instrument)
	if !ok {
		return
	}
	loc := inst.Exchange.Location
	req := bar.Request{Instrument: inst, Level: level}
	// binding already checked the layouts
	req.Start, _ = time.ParseInLocation(dateLayout, q.Start, loc)
	req.End, _ = time.ParseInLocation(dateLayout, q.End, loc)
	if q.Cutoff != "" {
		req.Cutoff, _ = time.ParseInLocation(cutoffLayout, q.Cutoff, loc)
	}
	if !req.Start.Before(req.End) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must precede end"})
		return
	}

	series, err := h.loader.Load(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

// GetSession describes the trading session of an instrument on one day.
// GET /api/v1/sessions
func (h *BarHandler) GetSession(c *gin.Context) {
	var q sessionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, ok := h.resolve(c, q.Instrument)
	if !ok {
		return
	}
	day, _ := time.ParseInLocation(dateLayout, q.Day, inst.Exchange.Location)
	sess, err := h.sessions.Session(inst, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a market day"})
		return
	}
	view := sessionView{
		Instrument:   inst.String(),
		Day:          sess.Day.Format(dateLayout),
		Segments:     sess.Segments,
		TotalSeconds: sess.TotalSeconds(),
		Bars:         make(map[string]int),
	}
	for _, l := range []bar.Level{bar.MIN1, bar.MIN3, bar.MIN5, bar.MIN10, bar.MIN15, bar.MIN30, bar.MIN60} {
		view.Bars[l.String()] = sess.Bars(l.N)
	}
	c.JSON(http.StatusOK, view)
}

func (h *BarHandler) resolve(c *gin.Context, raw string) (*instrument.Instrument, bool) {
	inst, err := h.reg.Resolve(raw)
	switch {
	case err == nil:
		return inst, true
	case faults.IsResolution(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	return nil, false
}

func (h *BarHandler) fail(c *gin.Context, err error) {
	switch {
	case faults.IsResolution(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case faults.IsIntegrity(err):
		h.logger.Error("integrity violation", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bars"})
	}
}

// requestLogger logs every request after it is served.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func setupRouter(h *BarHandler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := router.Group("/api/v1")
	{
		v1.GET("/bars", h.GetBars)
		v1.GET("/sessions", h.GetSession)
	}
	return router
}
