// Package synchronize lets plugins ask the telephony backend to push new
// configuration to devices, typically with a SIP check-sync NOTIFY.
package synchronize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/logger"
)

// ErrSynchronize is the base error of synchronization failures.
var ErrSynchronize = errors.New("synchronize error")

// Backend is a device synchronization service. One backend is registered
// process-wide; plugins reach it through the package-level accessors so
// they stay decoupled from how the deployment talks to its telephony
// engine.
type Backend interface {
	// Type identifies the backend kind, like "AsteriskAMI".
	Type() string

	// SIPNotifyByPeer sends a SIP NOTIFY to a registered peer.
	SIPNotifyByPeer(ctx context.Context, peer, event string, extraVars []string) error

	// SIPNotifyByIP sends a SIP NOTIFY directly to an IP address.
	SIPNotifyByIP(ctx context.Context, ip, event string, extraVars []string) error
}

//nolint:gochecknoglobals // one synchronization backend is shared across the process intentionally
var (
	registryMu sync.RWMutex
	backend    Backend
)

// Register installs the process-wide synchronization backend, replacing
// any previous one.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()

	log := logger.GetLogger()
	log.Info().Str("type", b.Type()).Msg("Registering synchronize backend")
	backend = b
}

// Unregister removes the process-wide synchronization backend. It is a
// no-op when none is registered.
func Unregister() {
	registryMu.Lock()
	defer registryMu.Unlock()

	log := logger.GetLogger()
	if backend == nil {
		log.Info().Msg("No synchronize backend registered")
		return
	}

	log.Info().Str("type", backend.Type()).Msg("Unregistering synchronize backend")
	backend = nil
}

// Get returns the registered backend, or nil when none is registered.
func Get() Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return backend
}

const amiBackendType = "AsteriskAMI"

// autoprov peers all share the same generated username, so notifying by
// peer would restart every unprovisioned phone at once.
func isAutoprovUsername(username string) bool {
	return strings.HasPrefix(username, "ap") && len(username) == 10
}

// StandardSIPSynchronize asks the device to resynchronize with a SIP
// NOTIFY carrying the given event, "check-sync" being the conventional
// one. The device's SIP username is preferred as destination; devices
// without one, or still in autoprov, are notified by IP. An error wrapping
// ErrSynchronize is returned when no compatible backend is registered or
// the device carries no usable identity.
func StandardSIPSynchronize(ctx context.Context, device devices.Device, event string, extraVars []string) error {
	b := Get()
	if b == nil || b.Type() != amiBackendType {
		return fmt.Errorf("%w: incompatible backend: %v", ErrSynchronize, b)
	}

	if username, _ := device["remote_state_sip_username"].(string); username != "" && !isAutoprovUsername(username) {
		return b.SIPNotifyByPeer(ctx, username, event, extraVars)
	}

	if ip, _ := device["ip"].(string); ip != "" {
		return b.SIPNotifyByIP(ctx, ip, event, extraVars)
	}

	return fmt.Errorf("%w: not enough information to synchronize device", ErrSynchronize)
}
