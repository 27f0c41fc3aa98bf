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

// Setup initializes all pipeline components for one ETL job
// This is the main entry point for all job binaries
func Setup(ctx context.Context, jobName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(jobName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Job.LogLevel,
			components.Config.Job.LogFormat,
		).WithJob(jobName)
	}

	components.Logger.Info("initializing pipeline",
		"job", jobName,
		"fingerprint_backend", components.Config.Fingerprint.Backend,
	)

	// 3. Fingerprint records backend
	switch components.Config.Fingerprint.Backend {
	case "postgres":
		components.Logger.Info("connecting to shared fingerprint registry")
		components.DB, err = db.New(ctx, components.Config.Database, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if err := fingerprint.EnsureSchema(ctx, components.DB); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to prepare fingerprint schema: %w", err)
		}

		components.Records = fingerprint.NewPGRecords(components.DB)
	default:
		components.Records = fingerprint.NewFileRecords(components.Config.Fingerprint.Dir)
	}

	components.Detector = fingerprint.NewDetector(components.Records, components.Logger)

	// 4. Remote mirror (if not skipped)
	if !options.skipMirror {
		components.Mirror = mirror.New(components.Config.Mirror, components.Logger)
	}

	// 5. Portal driver (if not skipped)
	if !options.skipPortal {
		components.Portal = portal.New(components.Config.Portal, components.Logger)
	}

	// 6. Publisher façade, only when both collaborators are present
	if components.Mirror != nil && components.Portal != nil {
		components.Publisher = publisher.New(
			components.Detector,
			components.Mirror,
			components.Portal,
			components.Logger,
		)
	}

	components.Logger.Info("pipeline initialized")

	return components, nil
}
