package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eidolex/sqlgate/core/models"
)

// ===== Saved Connection Operations =====

func (h *Handlers) SaveConnection(c *gin.Context) {
	var conn models.SavedConnection
	if err := c.ShouldBindJSON(&conn); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	if err := h.store.SaveConnection(conn); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, nil)
}

func (h *Handlers) LoadConnections(c *gin.Context) {
	connections, err := h.store.LoadConnections()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, connections)
}

func (h *Handlers) DeleteConnection(c *gin.Context) {
	if err := h.store.DeleteConnection(c.Param("id")); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, nil)
}

// ===== App State Operations =====

// SaveAppState round-trips the UI session blob; the backend never
// interprets it.
func (h *Handlers) SaveAppState(c *gin.Context) {
	var state json.RawMessage
	if err := c.ShouldBindJSON(&state); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	if err := h.store.SaveAppState(state); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, nil)
}

func (h *Handlers) LoadAppState(c *gin.Context) {
	state, err := h.store.LoadAppState()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, state)
}

// Health reports server liveness.
func (h *Handlers) Health(c *gin.Context) {
	h.ok(c, gin.H{"status": "ok"})
}
