package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry owns every Device and Group record for the lifetime of the
// process. It is seeded from config at startup; the mesh never creates or
// destroys entries, it only updates state on the ones config declares.
//
// Wire status frames carry bare 16-bit IDs with no home marker, so all
// homes share one flat ID space; NewRegistry rejects configs where two
// homes collide.
//
// All public methods are thread-safe. Lookups return value copies: callers
// can read a snapshot without holding the registry lock, and mutations go
// through Apply/Set methods only.
type Registry struct {
	mu      sync.RWMutex
	devices map[int]*Device
	groups  map[int]*Group

	// subgroupsOf maps device ID to the subgroup IDs containing it,
	// rebuilt on load so the reconcile path avoids scanning all groups
	// on every status apply.
	subgroupsOf map[int][]int

	logger Logger
}

// NewRegistry builds a registry from the configured homes.
//
// Returns:
//   - *Registry: Seeded registry, all devices initially offline
//   - error: ErrDuplicateID if device/group IDs collide across homes
func NewRegistry(homes []config.HomeConfig) (*Registry, error) {
	r := &Registry{
		devices:     make(map[int]*Device),
		groups:      make(map[int]*Group),
		subgroupsOf: make(map[int][]int),
		logger:      noopLogger{},
	}
	if err := r.load(homes); err != nil {
		return nil, err
	}
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// load replaces the registry contents from config, carrying over runtime
// state for IDs that survive. Caller must not hold the lock.
func (r *Registry) load(homes []config.HomeConfig) error {
	devices := make(map[int]*Device)
	groups := make(map[int]*Group)
	subgroupsOf := make(map[int][]int)

	for _, home := range homes {
		for _, dc := range home.Devices {
			if _, exists := devices[dc.ID]; exists {
				return fmt.Errorf("%w: device %d", ErrDuplicateID, dc.ID)
			}
			devices[dc.ID] = &Device{
				ID:       dc.ID,
				HomeID:   home.ID,
				Name:     dc.Name,
				Type:     Type(dc.Type),
				MAC:      dc.MAC,
				WiFiMAC:  dc.WiFiMAC,
				Firmware: dc.Firmware,
				BTOnly:   dc.BTOnly,
			}
		}
		for _, gc := range home.Groups {
			if _, exists := groups[gc.ID]; exists {
				return fmt.Errorf("%w: group %d", ErrDuplicateID, gc.ID)
			}
			if _, exists := devices[gc.ID]; exists {
				return fmt.Errorf("%w: group %d collides with a device id", ErrDuplicateID, gc.ID)
			}
			members := make([]int, len(gc.Members))
			copy(members, gc.Members)
			groups[gc.ID] = &Group{
				ID:       gc.ID,
				HomeID:   home.ID,
				Name:     gc.Name,
				Members:  members,
				Subgroup: gc.Subgroup,
			}
			if gc.Subgroup {
				for _, member := range gc.Members {
					subgroupsOf[member] = append(subgroupsOf[member], gc.ID)
				}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Carry runtime state across a reload for entries that kept their ID.
	for id, d := range devices {
		if prev, ok := r.devices[id]; ok {
			d.On = prev.On
			d.Brightness = prev.Brightness
			d.Temperature = prev.Temperature
			d.R, d.G, d.B = prev.R, prev.G, prev.B
			d.Online = prev.Online
			d.PendingCommand = prev.PendingCommand
			d.offlineCount = prev.offlineCount
			d.seen = prev.seen
		}
	}
	for id, g := range groups {
		if prev, ok := r.groups[id]; ok {
			g.On = prev.On
			g.Brightness = prev.Brightness
			g.Temperature = prev.Temperature
			g.R, g.G, g.B = prev.R, prev.G, prev.B
			g.Online = prev.Online
			g.offlineCount = prev.offlineCount
			g.seen = prev.seen
		}
	}

	r.devices = devices
	r.groups = groups
	r.subgroupsOf = subgroupsOf
	return nil
}

// Reload replaces the registry from new config, preserving runtime state
// for device and group IDs that survive the change. Used by the config
// watcher; new entries start offline, removed entries vanish.
func (r *Registry) Reload(homes []config.HomeConfig) error {
	if err := r.load(homes); err != nil {
		return err
	}
	r.mu.RLock()
	r.logger.Info("registry reloaded", "devices", len(r.devices), "groups", len(r.groups))
	r.mu.RUnlock()
	return nil
}

// GetDevice retrieves a device snapshot by ID.
func (r *Registry) GetDevice(id int) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// GetGroup retrieves a group snapshot by ID.
func (r *Registry) GetGroup(id int) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, false
	}
	return g.copyValue(), true
}

// Devices returns snapshots of every device, ordered by home then ID for
// stable output.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HomeID != out[j].HomeID {
			return out[i].HomeID < out[j].HomeID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Groups returns snapshots of every group, ordered by home then ID.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.copyValue())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HomeID != out[j].HomeID {
			return out[i].HomeID < out[j].HomeID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SubgroupsContaining returns snapshots of every subgroup that lists the
// device as a member, using the derived index.
func (r *Registry) SubgroupsContaining(deviceID int) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.subgroupsOf[deviceID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.groups[id]; ok {
			out = append(out, g.copyValue())
		}
	}
	return out
}

// PrimaryGroupOf returns the room group a device belongs to: the
// lowest-numbered non-subgroup group listing it as a member. Wall switch
// commands sync all devices in this group optimistically.
func (r *Registry) PrimaryGroupOf(deviceID int) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	for id, g := range r.groups {
		if g.Subgroup || !g.Contains(deviceID) {
			continue
		}
		if best == -1 || id < best {
			best = id
		}
	}
	if best == -1 {
		return Group{}, false
	}
	return r.groups[best].copyValue(), true
}

// SetPendingCommand marks or clears the un-acked control flag on a device.
// Unknown IDs are ignored (the flag is advisory).
func (r *Registry) SetPendingCommand(deviceID int, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		d.PendingCommand = pending
	}
}

// DeviceCount returns the number of registered devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// GroupCount returns the number of registered groups.
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	TotalDevices   int `json:"total_devices"`
	OnlineDevices  int `json:"online_devices"`
	BTOnlyDevices  int `json:"bt_only_devices"`
	TotalGroups    int `json:"total_groups"`
	Subgroups      int `json:"subgroups"`
	PendingCommand int `json:"pending_command"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		TotalGroups:  len(r.groups),
	}
	for _, d := range r.devices {
		if d.Online {
			stats.OnlineDevices++
		}
		if d.BTOnly {
			stats.BTOnlyDevices++
		}
		if d.PendingCommand {
			stats.PendingCommand++
		}
	}
	for _, g := range r.groups {
		if g.Subgroup {
			stats.Subgroups++
		}
	}
	return stats
}
