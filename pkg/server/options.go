package server

import (
	"log/slog"

	"github.com/storacha/go-ucanto/principal"

	"github.com/relves/vulnlog/pkg/ledger"
)

// Config holds server configuration.
type Config struct {
	Signer    principal.Signer
	Ledger    *ledger.Service
	Validator RequestValidator
	Logger    *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithSigner sets the UCAN service signer.
func WithSigner(s principal.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithLedger sets the ledger the handlers operate on.
func WithLedger(l *ledger.Service) Option {
	return func(c *Config) {
		c.Ledger = l
	}
}

// WithValidator sets a request validator for account/rate-limit checks.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithLogger sets the logger used for internal failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
