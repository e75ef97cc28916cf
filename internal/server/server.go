package server

import (
	"fmt"
	"net/http"
	"time"

	"parcelharvest/internal/config"
	"parcelharvest/internal/engine"
)

// Server adapts the engine's interface onto HTTP for the external
// caller. It makes no scheduling or I/O decisions of its own.
type Server struct {
	engine *engine.Engine
	config config.Config
}

// New builds the HTTP server around an engine.
func New(cfg config.Config, eng *engine.Engine) *http.Server {
	server := &Server{
		engine: eng,
		config: cfg,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", cfg.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
