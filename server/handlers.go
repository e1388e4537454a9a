package server

import (
	"Bt1QMix/config"
	"Bt1QMix/core/auth"
	"Bt1QMix/core/engine"
	"Bt1QMix/core/library"
)

// APIHandler carries the services the HTTP endpoints operate on.
type APIHandler struct {
	cfg     *config.Config
	eng     *engine.Engine
	lib     *library.Service
	authSvc *auth.Service
	hub     *BeatHub
}

// NewAPIHandler wires the handler set.
func NewAPIHandler(
	cfg *config.Config,
	eng *engine.Engine,
	lib *library.Service,
	authSvc *auth.Service,
	hub *BeatHub,
) *APIHandler {
	return &APIHandler{
		cfg:     cfg,
		eng:     eng,
		lib:     lib,
		authSvc: authSvc,
		hub:     hub,
	}
}
