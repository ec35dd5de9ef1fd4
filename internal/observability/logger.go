package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the global logger tagged with the owning component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// SessionLogger tags component logs with one connection's identity.
func SessionLogger(base zerolog.Logger, sessionID uint64, remote string) zerolog.Logger {
	return base.With().Uint64("session", sessionID).Str("remote", remote).Logger()
}
