// Package handlers provides HTTP API request handlers.
package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brandonphelps/rusty-pellets/internal/buffer"
	"github.com/brandonphelps/rusty-pellets/internal/codec"
	"github.com/brandonphelps/rusty-pellets/internal/model"
	"github.com/brandonphelps/rusty-pellets/internal/servo"
	"github.com/brandonphelps/rusty-pellets/internal/session"
)

// SessionHandler serves the bridge's session and bus state.
type SessionHandler struct {
	broker *session.Broker
	frames *buffer.FrameRing
}

// NewSessionHandler creates a new SessionHandler. frames may be nil when
// bus tracing is disabled.
func NewSessionHandler(broker *session.Broker, frames *buffer.FrameRing) *SessionHandler {
	return &SessionHandler{
		broker: broker,
		frames: frames,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID         string        `json:"id"`
	RemoteAddr string        `json:"remoteAddr"`
	Status     string        `json:"status"`
	EndReason  string        `json:"endReason,omitempty"`
	Ticks      int64         `json:"ticks"`
	Duration   string        `json:"duration"`
	StartedAt  string        `json:"startedAt"`
	EndedAt    string        `json:"endedAt,omitempty"`
	FinalState []servo.State `json:"finalState,omitempty"`
}

// CurrentResponse is the body of GET /api/session.
type CurrentResponse struct {
	Connected bool             `json:"connected"`
	Session   *SessionResponse `json:"session,omitempty"`
	States    []servo.State    `json:"states"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s *model.Session) *SessionResponse {
	resp := &SessionResponse{
		ID:         s.ID,
		RemoteAddr: s.RemoteAddr,
		Status:     string(s.Status),
		EndReason:  string(s.EndReason),
		Ticks:      s.Ticks,
		Duration:   formatDuration(s.Duration()),
		StartedAt:  s.StartedAt.Format(time.RFC3339),
	}

	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}

	if len(s.FinalState) > 0 {
		states, err := codec.DecodeStates(s.FinalState)
		if err != nil {
			log.Printf("Failed to decode final state of session %s: %v", s.ID, err)
		} else {
			resp.FinalState = states
		}
	}

	return resp
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// parseLimit reads the optional "limit" query parameter.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

// Current handles GET /api/session - the active session and servo states.
func (h *SessionHandler) Current(c *gin.Context) {
	resp := CurrentResponse{
		Connected: h.broker.Connected(),
		States:    h.broker.Snapshot(),
	}
	if s := h.broker.Current(); s != nil {
		resp.Session = toSessionResponse(s)
	}

	c.JSON(http.StatusOK, resp)
}

// List handles GET /api/sessions - past and active sessions, newest first.
func (h *SessionHandler) List(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	sessions, err := h.broker.History(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionResponse(s))
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": response,
	})
}

// Frames handles GET /api/bus/frames - the most recent bus traffic.
func (h *SessionHandler) Frames(c *gin.Context) {
	if h.frames == nil {
		sendError(c, http.StatusNotFound, "TRACE_DISABLED", "Bus frame tracing is disabled")
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	entries := h.frames.Last(limit)
	if entries == nil {
		entries = []buffer.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"capacity": h.frames.Cap(),
		"frames":   entries,
	})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/session", h.Current)
	rg.GET("/sessions", h.List)
	rg.GET("/bus/frames", h.Frames)
}
