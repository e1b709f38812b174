// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/rpc-dispatch/pkg/commsutil"
)

const logPrefix = "config:LoadConfig"

// Config holds rpc-dispatch configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL. Empty disables the
	// COMMS transport adapter and event publishing.
	COMMSURL  string `envconfig:"COMMS_URL"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"rpc-dispatch"`

	// RPCSubject is the COMMS subject the dispatch adapter serves. Empty
	// means commsutil.SubjectRPCRequest.
	RPCSubject string `envconfig:"RPC_SUBJECT"`
	// DispatchEventSubject overrides the global completion event subject.
	DispatchEventSubject string `envconfig:"DISPATCH_EVENT_SUBJECT"`

	// Environment gates diagnostic exposure: anything other than
	// "production" includes original error text and traces in envelopes.
	Environment string `envconfig:"ENVIRONMENT" default:"production"`

	// Timeouts. SubscriptionTimeout bounds each subscription's lifetime;
	// the default sits under common 30s serverless request ceilings.
	SubscriptionTimeout time.Duration `envconfig:"SUBSCRIPTION_TIMEOUT" default:"20s"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Database: optional dispatch audit log. Empty disables it.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP transport adapter
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if c.RPCSubject == "" {
		c.RPCSubject = commsutil.SubjectRPCRequest
	}
	return &c, nil
}

// ExposeStack reports whether failure envelopes may carry original error
// text and traces. Production configuration never exposes them.
func (c *Config) ExposeStack() bool {
	return c.Environment != "production"
}

// ValidateForServe checks required config when running the dispatch server.
func (c *Config) ValidateForServe() error {
	if c.SubscriptionTimeout <= 0 {
		return fmt.Errorf("%s - SUBSCRIPTION_TIMEOUT must be positive", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("%s - HTTP_PORT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
