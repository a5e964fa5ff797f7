// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// APIServer serves HTTP until ctx ends and drains on its own.
// *api.Server implements it.
type APIServer interface {
	ListenAndServe(ctx context.Context) error
}

// Engine is the job runtime. *orchestrator.Orchestrator implements it.
type Engine interface {
	// Start recovers persisted jobs and begins scheduling.
	Start(ctx context.Context) error
	// Shutdown stops admitting jobs and waits for running ones.
	Shutdown(ctx context.Context) error
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	API    APIServer
	Engine Engine

	// ShutdownTimeout bounds engine drain plus shutdown hooks.
	ShutdownTimeout time.Duration
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.API == nil {
		return ErrMissingAPIServer
	}
	if d.Engine == nil {
		return ErrMissingEngine
	}
	return nil
}
