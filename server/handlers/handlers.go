package handlers

import (
	"github.com/eidolex/sqlgate/core/broker"
	"github.com/eidolex/sqlgate/core/store"
	"github.com/eidolex/sqlgate/core/utils"
)

// Handlers contains all HTTP handlers for the database command surface
type Handlers struct {
	broker *broker.Broker
	store  *store.Store
	logger utils.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(b *broker.Broker, s *store.Store, logger utils.Logger) *Handlers {
	return &Handlers{
		broker: b,
		store:  s,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}
