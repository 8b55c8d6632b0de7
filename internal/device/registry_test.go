package device

import (
	"errors"
	"testing"

	"github.com/cynclan/cync-lan/internal/infrastructure/config"
)

// testHomes builds a two-home layout exercising the flat ID space:
// home 1001 has three bulbs, a wall switch and a fan; home 1002 a plug.
func testHomes() []config.HomeConfig {
	return []config.HomeConfig{
		{
			ID:   1001,
			Name: "Main House",
			Devices: []config.DeviceConfig{
				{ID: 1, Name: "Kitchen Ceiling 1", Type: 31, MAC: "AA:BB:CC:00:00:01"},
				{ID: 2, Name: "Kitchen Ceiling 2", Type: 31},
				{ID: 3, Name: "Kitchen Counter", Type: 7},
				{ID: 7, Name: "Hall Switch", Type: 114},
				{ID: 9, Name: "Bedroom Fan", Type: 81},
			},
			Groups: []config.GroupConfig{
				{ID: 256, Name: "Kitchen", Members: []int{1, 2, 3}},
				{ID: 32769, Name: "Kitchen Ceiling", Members: []int{1, 2}, Subgroup: true},
			},
		},
		{
			ID:   1002,
			Name: "Garage",
			Devices: []config.DeviceConfig{
				{ID: 20, Name: "Compressor Plug", Type: 65},
			},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testHomes())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistrySeedsFromConfig(t *testing.T) {
	r := newTestRegistry(t)

	if got := r.DeviceCount(); got != 6 {
		t.Errorf("DeviceCount() = %d, want 6", got)
	}
	if got := r.GroupCount(); got != 2 {
		t.Errorf("GroupCount() = %d, want 2", got)
	}

	d, ok := r.GetDevice(7)
	if !ok {
		t.Fatal("GetDevice(7) not found")
	}
	if d.HomeID != 1001 {
		t.Errorf("HomeID = %d, want 1001", d.HomeID)
	}
	if d.Online {
		t.Error("devices must start offline")
	}
	if !d.Type.IsSwitch() {
		t.Errorf("type %d should be a switch", d.Type)
	}
}

func TestNewRegistryRejectsDuplicateIDs(t *testing.T) {
	tests := []struct {
		name  string
		homes []config.HomeConfig
	}{
		{
			name: "device id repeated across homes",
			homes: []config.HomeConfig{
				{ID: 1, Devices: []config.DeviceConfig{{ID: 5, Type: 7}}},
				{ID: 2, Devices: []config.DeviceConfig{{ID: 5, Type: 7}}},
			},
		},
		{
			name: "group id repeated across homes",
			homes: []config.HomeConfig{
				{ID: 1, Groups: []config.GroupConfig{{ID: 300}}},
				{ID: 2, Groups: []config.GroupConfig{{ID: 300}}},
			},
		},
		{
			name: "group id collides with device id",
			homes: []config.HomeConfig{
				{
					ID:      1,
					Devices: []config.DeviceConfig{{ID: 42, Type: 7}},
					Groups:  []config.GroupConfig{{ID: 42}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.homes)
			if !errors.Is(err, ErrDuplicateID) {
				t.Errorf("NewRegistry() error = %v, want ErrDuplicateID", err)
			}
		})
	}
}

func TestGetDeviceReturnsSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	d1, _ := r.GetDevice(1)
	d1.Name = "mutated"
	d1.On = true

	d2, _ := r.GetDevice(1)
	if d2.Name != "Kitchen Ceiling 1" || d2.On {
		t.Error("mutating a returned snapshot leaked into the registry")
	}
}

func TestGetGroupReturnsSnapshotWithOwnMembers(t *testing.T) {
	r := newTestRegistry(t)

	g1, ok := r.GetGroup(256)
	if !ok {
		t.Fatal("GetGroup(256) not found")
	}
	g1.Members[0] = 999

	g2, _ := r.GetGroup(256)
	if g2.Members[0] != 1 {
		t.Error("mutating a returned member slice leaked into the registry")
	}
}

func TestSubgroupsContaining(t *testing.T) {
	r := newTestRegistry(t)

	subs := r.SubgroupsContaining(1)
	if len(subs) != 1 || subs[0].ID != 32769 {
		t.Fatalf("SubgroupsContaining(1) = %v, want [32769]", subs)
	}

	// Device 3 is only in the room group, not the subgroup.
	if subs := r.SubgroupsContaining(3); len(subs) != 0 {
		t.Errorf("SubgroupsContaining(3) = %v, want none", subs)
	}
}

func TestPrimaryGroupOf(t *testing.T) {
	r := newTestRegistry(t)

	g, ok := r.PrimaryGroupOf(2)
	if !ok {
		t.Fatal("PrimaryGroupOf(2) not found")
	}
	if g.ID != 256 {
		t.Errorf("primary group = %d, want 256 (subgroup 32769 must not win)", g.ID)
	}

	if _, ok := r.PrimaryGroupOf(20); ok {
		t.Error("PrimaryGroupOf(20) = found, want none (device has no room group)")
	}
}

func TestSetPendingCommand(t *testing.T) {
	r := newTestRegistry(t)

	r.SetPendingCommand(7, true)
	d, _ := r.GetDevice(7)
	if !d.PendingCommand {
		t.Error("PendingCommand not set")
	}

	r.SetPendingCommand(7, false)
	d, _ = r.GetDevice(7)
	if d.PendingCommand {
		t.Error("PendingCommand not cleared")
	}

	// Unknown IDs are ignored.
	r.SetPendingCommand(9999, true)
}

func TestReloadCarriesRuntimeState(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.ApplyDeviceStatus(1, StatusUpdate{On: true, Brightness: 80, Temperature: 40}); err != nil {
		t.Fatalf("ApplyDeviceStatus() error = %v", err)
	}

	// Reload with device 1 surviving, device 2 removed, device 99 added.
	homes := testHomes()
	homes[0].Devices = []config.DeviceConfig{
		{ID: 1, Name: "Kitchen Ceiling 1 Renamed", Type: 31},
		{ID: 99, Name: "New Lamp", Type: 7},
	}
	if err := r.Reload(homes); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	d, ok := r.GetDevice(1)
	if !ok {
		t.Fatal("device 1 lost across reload")
	}
	if d.Name != "Kitchen Ceiling 1 Renamed" {
		t.Errorf("Name = %q, identity fields must come from new config", d.Name)
	}
	if !d.On || d.Brightness != 80 || !d.Online {
		t.Errorf("runtime state lost across reload: %+v", d)
	}

	if _, ok := r.GetDevice(2); ok {
		t.Error("removed device 2 still present after reload")
	}
	d99, ok := r.GetDevice(99)
	if !ok {
		t.Fatal("added device 99 missing after reload")
	}
	if d99.Online {
		t.Error("new devices must start offline")
	}
}

func TestGetStats(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.ApplyDeviceStatus(1, StatusUpdate{On: true, Brightness: 100}); err != nil {
		t.Fatalf("ApplyDeviceStatus() error = %v", err)
	}
	r.SetPendingCommand(7, true)

	stats := r.GetStats()
	if stats.TotalDevices != 6 {
		t.Errorf("TotalDevices = %d, want 6", stats.TotalDevices)
	}
	if stats.OnlineDevices != 1 {
		t.Errorf("OnlineDevices = %d, want 1", stats.OnlineDevices)
	}
	if stats.TotalGroups != 2 || stats.Subgroups != 1 {
		t.Errorf("groups = %d/%d, want 2 total with 1 subgroup", stats.TotalGroups, stats.Subgroups)
	}
	if stats.PendingCommand != 1 {
		t.Errorf("PendingCommand = %d, want 1", stats.PendingCommand)
	}
}
