package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// The security log is consumed by external ban tooling, so entries are
// emitted on a dedicated stream when one is configured and must keep a
// stable shape: a timestamp and a single formatted message.

var (
	securityMu     sync.RWMutex
	securityLogger zerolog.Logger = zerolog.New(os.Stdout).With().
			Timestamp().
			Str("component", "security").
			Logger()
	securityCloser io.Closer
)

func initSecurityLogger(config *Config, fallback io.Writer) error {
	securityMu.Lock()
	defer securityMu.Unlock()

	if securityCloser != nil {
		_ = securityCloser.Close()
		securityCloser = nil
	}

	output := fallback

	if config.SecurityFile != "" {
		f, err := os.OpenFile(config.SecurityFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}

		output = f
		securityCloser = f
	}

	securityLogger = zerolog.New(output).With().
		Timestamp().
		Str("component", "security").
		Logger()

	return nil
}

// SetSecurityOutput redirects security messages, mainly for tests.
func SetSecurityOutput(w io.Writer) {
	securityMu.Lock()
	defer securityMu.Unlock()

	securityLogger = zerolog.New(w).With().
		Timestamp().
		Str("component", "security").
		Logger()
}

// LogSecurityMsg records a security-relevant event, such as a device being
// auto-created from an unauthenticated request or a sensitive file being
// fetched.
func LogSecurityMsg(format string, args ...interface{}) {
	securityMu.RLock()
	defer securityMu.RUnlock()

	securityLogger.Info().Msgf(format, args...)
}
