package bootstrap

import (
	"github.com/opendata-etl/publisher/common/config"
	"github.com/opendata-etl/publisher/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipMirror   bool
	skipPortal   bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutMirror skips FTP mirror initialization, for jobs that only track
// fingerprints or only talk to the portal
func WithoutMirror() Option {
	return func(o *options) {
		o.skipMirror = true
	}
}

// WithoutPortal skips portal driver initialization
func WithoutPortal() Option {
	return func(o *options) {
		o.skipPortal = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

func defaultOptions() *options {
	return &options{
		skipMirror: false,
		skipPortal: false,
	}
}
