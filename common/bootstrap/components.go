package bootstrap

import (
	"context"
	"fmt"

	"github.com/opendata-etl/publisher/common/config"
	"github.com/opendata-etl/publisher/common/db"
	"github.com/opendata-etl/publisher/common/fingerprint"
	"github.com/opendata-etl/publisher/common/logger"
	"github.com/opendata-etl/publisher/common/mirror"
	"github.com/opendata-etl/publisher/common/portal"
	"github.com/opendata-etl/publisher/common/publisher"
)

// Components holds all initialized pipeline dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Records   fingerprint.Records
	Detector  *fingerprint.Detector
	Mirror    *mirror.Client
	Portal    *portal.Client
	Publisher *publisher.Publisher

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("fingerprint registry unhealthy: %w", err)
		}
	}

	// The file backend, mirror and portal have no standing connections

	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
