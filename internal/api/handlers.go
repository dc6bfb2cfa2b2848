package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wellsgz/speedpulse/internal/config"
	"github.com/wellsgz/speedpulse/internal/export"
	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// Version is reported by the status endpoint
const Version = "0.1.0"

// Session is the state machine surface the API drives
type Session interface {
	Start(cfg session.Config) (string, error)
	Stop() error
	Snapshot() session.Snapshot
	Buckets() []stability.MinuteBucket
	Subscribe() <-chan session.Snapshot
	Unsubscribe(ch <-chan session.Snapshot)
}

// ServerLister lists measurement servers
type ServerLister interface {
	Servers(ctx context.Context) ([]protocol.Server, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	config    *config.Config
	session   Session
	servers   ServerLister
	exporter  export.Exporter
	startTime time.Time
}

// NewHandler creates a new Handler with the given configuration
func NewHandler(cfg *config.Config, deps Deps) *Handler {
	return &Handler{
		config:    cfg,
		session:   deps.Session,
		servers:   deps.Servers,
		exporter:  deps.Exporter,
		startTime: time.Now(),
	}
}

// StatusResponse represents the response for the status endpoint
type StatusResponse struct {
	Status     string        `json:"status"`
	Uptime     string        `json:"uptime"`
	UptimeSecs float64       `json:"uptime_secs"`
	Phase      session.Phase `json:"phase"`
	SessionID  string        `json:"session_id,omitempty"`
	Version    string        `json:"version"`
}

// GetStatus returns the current system status
func (h *Handler) GetStatus(c *gin.Context) {
	uptime := time.Since(h.startTime)
	snap := h.session.Snapshot()

	c.JSON(http.StatusOK, StatusResponse{
		Status:     "ok",
		Uptime:     uptime.Round(time.Second).String(),
		UptimeSecs: uptime.Seconds(),
		Phase:      snap.Phase,
		SessionID:  snap.SessionID,
		Version:    Version,
	})
}

// GetConfig returns the current configuration (read-only)
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"address":        h.config.Server.Address,
			"enable_metrics": h.config.Server.EnableMetrics,
		},
		"session": gin.H{
			"buffer_size":           h.config.Session.BufferSize,
			"compact_buffer_size":   h.config.Session.CompactBufferSize,
			"iterations_per_minute": h.config.Session.IterationsPerMinute,
			"strict":                h.config.Session.Strict,
			"mode":                  h.config.Session.Mode,
			"duration_minutes":      h.config.Session.DurationMinutes,
		},
		"producer": gin.H{
			"latency":            h.config.Producer.Latency,
			"server_count":       h.config.Producer.ServerCount,
			"iteration_interval": h.config.Producer.IterationInterval.String(),
			"timeout":            h.config.Producer.Timeout.String(),
			"duration_options":   h.config.Producer.DurationOptions,
		},
	})
}

// GetSession returns the current snapshot. ?window=N keeps the newest N live samples,
// ?compact=true uses the configured compact size.
func (h *Handler) GetSession(c *gin.Context) {
	window, err := h.windowParam(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	snap := h.session.Snapshot()
	if window > 0 {
		snap = snap.Compact(window)
	}
	c.JSON(http.StatusOK, snap)
}

// StartRequest is the body of POST /session. Empty fields use the configured defaults.
type StartRequest struct {
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
	ServerID        string `json:"server_id"`
}

// StartSession begins a new test, superseding any running one
func (h *Handler) StartSession(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	cfg, err := h.sessionConfig(req)
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := h.session.Start(cfg)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": id,
		"phase":      h.session.Snapshot().Phase,
	})
}

// StopSession cancels the running test
func (h *Handler) StopSession(c *gin.Context) {
	if err := h.session.Stop(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// GetBuckets returns the per-minute stability buckets of the current session
func (h *Handler) GetBuckets(c *gin.Context) {
	buckets := h.session.Buckets()
	c.JSON(http.StatusOK, gin.H{
		"buckets":         buckets,
		"stability_score": stability.BucketScore(buckets),
	})
}

// GetServers lists the available measurement servers
func (h *Handler) GetServers(c *gin.Context) {
	if h.servers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Service Unavailable",
			"message": "No measurement producer configured",
		})
		return
	}

	servers, err := h.servers.Servers(c.Request.Context())
	if err != nil {
		logging.Error("API", "Failed to fetch servers", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Bad Gateway",
			"message": "Failed to fetch servers: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, protocol.ServerList{Servers: servers})
}

// QualityQuery holds the values to classify
type QualityQuery struct {
	Ping     *float64 `form:"ping"`
	Download *float64 `form:"download"`
	Upload   *float64 `form:"upload"`
}

// GetQuality classifies arbitrary ping/download/upload values
func (h *Handler) GetQuality(c *gin.Context) {
	var q QualityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	if q.Ping == nil || q.Download == nil || q.Upload == nil {
		badRequest(c, "ping, download and upload are required")
		return
	}

	assessment := quality.Classify(*q.Ping, *q.Download, *q.Upload)
	c.JSON(http.StatusOK, gin.H{
		"rating":          assessment.Rating,
		"recommendations": assessment.Recommendations,
		"indicators": gin.H{
			"ping":     quality.Indicator(storage.KindPing, *q.Ping),
			"download": quality.Indicator(storage.KindDownload, *q.Download),
			"upload":   quality.Indicator(storage.KindUpload, *q.Upload),
		},
	})
}

// ExportRequest is the body of POST /export
type ExportRequest struct {
	Format string `json:"format" binding:"required"`
}

// Export hands the current results to the export collaborator
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := export.Do(c.Request.Context(), h.exporter, exportRequest(format, h.session.Snapshot())); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, export.Result{Success: true})
}

// exportRequest collects the results of a snapshot for export
func exportRequest(format export.Format, snap session.Snapshot) export.Request {
	req := export.Request{Format: format, StabilityData: snap.Summary}
	switch {
	case len(snap.Iterations) > 0:
		req.Results = snap.Iterations
	case snap.FinalResult != nil:
		req.Results = []stability.IterationResult{{
			Ping:      snap.FinalResult.Ping,
			Download:  snap.FinalResult.Download,
			Upload:    snap.FinalResult.Upload,
			Timestamp: snap.FinalResult.CompletedAt,
		}}
	}
	return req
}

func (h *Handler) sessionConfig(req StartRequest) (session.Config, error) {
	modeName := req.Mode
	if modeName == "" {
		modeName = h.config.Session.Mode
	}
	mode, err := session.ParseMode(modeName)
	if err != nil {
		return session.Config{}, &session.InvalidConfigError{Field: "mode", Reason: err.Error()}
	}

	cfg := session.Config{Mode: mode, ServerID: req.ServerID}
	if cfg.ServerID == "" {
		cfg.ServerID = h.config.Session.ServerID
	}
	if mode == session.ModeContinuous {
		cfg.DurationMinutes = req.DurationMinutes
		if cfg.DurationMinutes == 0 {
			cfg.DurationMinutes = h.config.Session.DurationMinutes
		}
	}
	return cfg, nil
}

func (h *Handler) windowParam(c *gin.Context) (int, error) {
	if raw := c.Query("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, errors.New("window must be a non-negative integer")
		}
		return n, nil
	}
	if c.Query("compact") == "true" {
		return h.config.Session.CompactBufferSize, nil
	}
	return 0, nil
}

// writeError maps session and export errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var (
		invalid  *session.InvalidConfigError
		protoErr *session.ProtocolError
		prodErr  *session.ProducerError
		expErr   *export.Error
	)

	switch {
	case errors.As(err, &invalid):
		badRequest(c, err.Error())
	case errors.Is(err, session.ErrNotRunning), errors.As(err, &protoErr):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "message": err.Error()})
	case errors.As(err, &prodErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Bad Gateway", "message": prodErr.Message})
	case errors.As(err, &expErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Export Failed", "message": expErr.Message})
	default:
		logging.Error("API", "Request failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "message": err.Error()})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": message})
}
