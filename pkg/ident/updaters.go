package ident

import (
	"context"
	"reflect"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
)

// NullDeviceUpdater updates nothing.
type NullDeviceUpdater struct{}

func (NullDeviceUpdater) Update(context.Context, devices.Device, devices.Info, *Request) error {
	return nil
}

// DynamicDeviceUpdater copies the configured keys from the observed info
// onto the device. A key already present on the device is only overwritten
// when forceUpdate is set.
type DynamicDeviceUpdater struct {
	keys        []string
	forceUpdate bool
}

func NewDynamicDeviceUpdater(keys []string, forceUpdate bool) *DynamicDeviceUpdater {
	return &DynamicDeviceUpdater{keys: append([]string(nil), keys...), forceUpdate: forceUpdate}
}

func (u *DynamicDeviceUpdater) Update(_ context.Context, device devices.Device, info devices.Info, _ *Request) error {
	for _, key := range u.keys {
		if value, ok := info[key]; ok {
			if _, present := device[key]; u.forceUpdate || !present {
				device[key] = value
			}
		}
	}

	return nil
}

// AddInfoDeviceUpdater copies every observed key the device is missing.
type AddInfoDeviceUpdater struct{}

func (AddInfoDeviceUpdater) Update(_ context.Context, device devices.Device, info devices.Info, _ *Request) error {
	for key, value := range info {
		if _, present := device[key]; !present {
			device[key] = value
		}
	}

	return nil
}

// AutocreateConfigDeviceUpdater assigns a freshly autocreated config to
// devices that have none.
type AutocreateConfigDeviceUpdater struct {
	app Application
}

func NewAutocreateConfigDeviceUpdater(app Application) *AutocreateConfigDeviceUpdater {
	return &AutocreateConfigDeviceUpdater{app: app}
}

func (u *AutocreateConfigDeviceUpdater) Update(ctx context.Context, device devices.Device, _ devices.Info, _ *Request) error {
	if _, ok := device["config"]; ok {
		return nil
	}

	configID, err := u.app.CfgCreateNew(ctx)
	if err != nil {
		return err
	}

	if configID != "" {
		device["config"] = configID
	}

	return nil
}

// RemoveOutdatedIPDeviceUpdater evicts the observed IP from any other
// device still holding it. With NAT enabled, devices legitimately share
// IPs and the updater does nothing.
type RemoveOutdatedIPDeviceUpdater struct {
	app Application
}

func NewRemoveOutdatedIPDeviceUpdater(app Application) *RemoveOutdatedIPDeviceUpdater {
	return &RemoveOutdatedIPDeviceUpdater{app: app}
}

func (u *RemoveOutdatedIPDeviceUpdater) Update(ctx context.Context, device devices.Device, info devices.Info, _ *Request) error {
	if u.app.NATEnabled() {
		return nil
	}

	ip, ok := info["ip"]
	if !ok {
		return nil
	}

	selector := docstore.Selector{
		"ip":           ip,
		docstore.IDKey: map[string]any{"$ne": device[docstore.IDKey]},
	}

	outdatedDevices, err := u.app.DevFind(ctx, selector)
	if err != nil {
		return err
	}

	for _, outdated := range outdatedDevices {
		delete(outdated, "ip")

		if err := u.app.DevUpdate(ctx, outdated, nil); err != nil {
			return err
		}
	}

	return nil
}

// CompositeDeviceUpdater runs its updaters in order.
type CompositeDeviceUpdater struct {
	updaters []DeviceUpdater
}

func NewCompositeDeviceUpdater(updaters ...DeviceUpdater) *CompositeDeviceUpdater {
	return &CompositeDeviceUpdater{updaters: updaters}
}

func (u *CompositeDeviceUpdater) Update(ctx context.Context, device devices.Device, info devices.Info, req *Request) error {
	for _, updater := range u.updaters {
		if err := updater.Update(ctx, device, info, req); err != nil {
			return err
		}
	}

	return nil
}

// LastSeenUpdater accumulates observations with last-write-wins semantics
// per key: every call overwrites previously seen values for the keys it
// carries and leaves the others untouched.
type LastSeenUpdater struct {
	mu      sync.Mutex
	devInfo devices.Info
}

func NewLastSeenUpdater() *LastSeenUpdater {
	return &LastSeenUpdater{devInfo: make(devices.Info)}
}

func (u *LastSeenUpdater) Update(_ context.Context, _ devices.Device, info devices.Info, _ *Request) error {
	u.Accumulate(info)
	return nil
}

func (u *LastSeenUpdater) Accumulate(info devices.Info) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for key, value := range info {
		u.devInfo[key] = value
	}
}

// DevInfo returns the accumulated observation state.
func (u *LastSeenUpdater) DevInfo() devices.Info {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(devices.Info, len(u.devInfo))
	for key, value := range u.devInfo {
		out[key] = value
	}

	return out
}

// VotingUpdater accumulates observations by counting, per key, every
// distinct value seen. The resolved value for a key is the one with the
// most votes; on a tie the value that reached that count first wins.
type VotingUpdater struct {
	mu    sync.Mutex
	votes map[string][]*voteEntry
}

type voteEntry struct {
	value any
	count int
}

func NewVotingUpdater() *VotingUpdater {
	return &VotingUpdater{votes: make(map[string][]*voteEntry)}
}

func (u *VotingUpdater) Update(_ context.Context, _ devices.Device, info devices.Info, _ *Request) error {
	u.Accumulate(info)
	return nil
}

func (u *VotingUpdater) Accumulate(info devices.Info) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for key, value := range info {
		u.vote(key, value)
	}
}

func (u *VotingUpdater) vote(key string, value any) {
	pool := u.votes[key]

	for _, entry := range pool {
		if reflect.DeepEqual(entry.value, value) {
			entry.count++
			return
		}
	}

	u.votes[key] = append(pool, &voteEntry{value: value, count: 1})
}

// DevInfo returns the winning value per key. Pools keep first-observation
// order, so a strict-greater scan makes ties deterministic.
func (u *VotingUpdater) DevInfo() devices.Info {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(devices.Info, len(u.votes))

	for key, pool := range u.votes {
		winner := pool[0]

		for _, entry := range pool[1:] {
			if entry.count > winner.count {
				winner = entry
			}
		}

		out[key] = winner.value
	}

	return out
}
