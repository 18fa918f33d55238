package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eidolex/sqlgate/core/models"
)

// ===== Database Command Operations =====

func (h *Handlers) fail(c *gin.Context, status int, err error) {
	c.JSON(status, Response{
		Success: false,
		Error:   models.NewDatabaseError(err),
	})
}

func (h *Handlers) ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// ConnectDB opens a connection (and its tunnel, when SSH is enabled)
// and returns the new connection id.
func (h *Handlers) ConnectDB(c *gin.Context) {
	var cfg models.SavedConnection
	if err := c.ShouldBindJSON(&cfg); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	id, err := h.broker.Connect(c.Request.Context(), cfg)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	h.ok(c, gin.H{"connection_id": id})
}

// DisconnectDB tears a connection down. Repeated calls are a no-op.
func (h *Handlers) DisconnectDB(c *gin.Context) {
	if err := h.broker.Disconnect(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, nil)
}

func (h *Handlers) ListDatabases(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	databases, err := provider.ListDatabases(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, databases)
}

func (h *Handlers) ListTables(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	tables, err := provider.ListTables(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, tables)
}

// TableDataRequest carries pagination, filters and sorts for a table read.
type TableDataRequest struct {
	Limit   int64           `json:"limit"`
	Offset  int64           `json:"offset"`
	Filters []models.Filter `json:"filters"`
	Sorts   []models.Sort   `json:"sorts"`
}

func (h *Handlers) GetTableData(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	var req TableDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	result, err := provider.GetTableData(c.Request.Context(),
		c.Param("table"), req.Limit, req.Offset, req.Filters, req.Sorts)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, result)
}

func (h *Handlers) GetTableStructure(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	structure, err := provider.GetTableStructure(c.Request.Context(), c.Param("table"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, structure)
}

func (h *Handlers) GetTableIndexes(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	indexes, err := provider.GetTableIndexes(c.Request.Context(), c.Param("table"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, indexes)
}

// QueryRequest carries one free-form SQL statement.
type QueryRequest struct {
	Query string `json:"query"`
}

func (h *Handlers) ExecuteQuery(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	result, err := provider.ExecuteQuery(c.Request.Context(), req.Query)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, result)
}

func (h *Handlers) GetDatabaseSchema(c *gin.Context) {
	provider, err := h.broker.Provider(c.Param("id"))
	if err != nil {
		h.fail(c, http.StatusNotFound, err)
		return
	}

	schema, err := provider.GetDatabaseSchema(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.ok(c, schema)
}
