package versioning

import (
	"log/slog"
	"time"

	"github.com/roach88/strata/internal/ident"
)

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the generator for version and branch ids.
// Default: UUIDv7.
func WithIDGenerator(g ident.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNow sets the clock used for version and branch timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}
