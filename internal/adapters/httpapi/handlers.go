package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/app"
	"github.com/mentorlink/sessiond/internal/auth"
	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/gate"
	"github.com/mentorlink/sessiond/internal/store"
)

type SessionHandler struct {
	Orch *app.Orchestrator
}

type createSessionRequest struct {
	Mentor         string    `json:"mentor" binding:"required"`
	Learner        string    `json:"learner" binding:"required"`
	ScheduledStart time.Time `json:"scheduled_start" binding:"required"`
	Duration       int       `json:"duration"`
	Notes          string    `json:"notes"`
}

// Create books a session against an already-accepted request. The
// request/accept workflow itself lives upstream; by the time this is
// called the two parties are fixed.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := domain.NewSession(domain.UserID(req.Mentor), domain.UserID(req.Learner), req.ScheduledStart, req.Duration, req.Notes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !sess.IsParticipant(auth.Identity(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}

	if err := h.Orch.Store.Create(c.Request.Context(), sess); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) ListMentor(c *gin.Context) {
	h.list(c, store.RoleMentor)
}

func (h *SessionHandler) ListLearner(c *gin.Context) {
	h.list(c, store.RoleLearner)
}

func (h *SessionHandler) list(c *gin.Context, role store.Role) {
	sessions, err := h.Orch.Store.ListByParticipant(c.Request.Context(), auth.Identity(c), role)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// GetByRoom is the join page's read path: the session record plus the
// room's current occupancy. Parties only.
func (h *SessionHandler) GetByRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	sess, err := h.Orch.Store.GetByRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	if !sess.IsParticipant(auth.Identity(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":   sess,
		"occupancy": h.Orch.Registry.Occupancy(roomID),
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus is the termination path: whichever participant ends the
// call first PATCHes completed here. Safe to call twice.
func (h *SessionHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status := domain.Status(req.Status)
	if !status.IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or cancelled"})
		return
	}
	h.terminate(c, status)
}

// Cancel is the explicit out-of-band cancellation path.
func (h *SessionHandler) Cancel(c *gin.Context) {
	h.terminate(c, domain.StatusCancelled)
}

func (h *SessionHandler) terminate(c *gin.Context, status domain.Status) {
	id := domain.SessionID(c.Param("sessionId"))
	err := h.Orch.Terminate(c.Request.Context(), id, status, auth.Identity(c))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "session " + string(status)})
	case errors.Is(err, store.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, gate.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	default:
		log.Error().Err(err).Str("module", "httpapi").Str("session", string(id)).Msg("terminate session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update session"})
	}
}
