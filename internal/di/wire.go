// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/services"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories and services
// 3. Register jobs
//
// source overrides the timeline source; nil dials Trade Republic.
func Wire(ctx context.Context, cfg *config.Config, source services.SourceFactory, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(ctx, container, cfg, source, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs := RegisterJobs(container, cfg, log)
	return container, jobs, nil
}
