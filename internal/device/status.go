package device

import "errors"

// offlineThreshold is how many consecutive offline reports a device must
// accumulate before its availability flips. Mesh devices routinely drop a
// single beacon; a lone offline report is noise, three in a row is real.
const offlineThreshold = 3

// StatusUpdate is one normalized state report from the mesh, decoded from
// any of the wire forms (unsolicited 0x43 structs, bounded 0x83 status,
// mesh-info reply structs). Fields the frame did not carry are flagged so
// the apply path never clobbers state with zeroes.
type StatusUpdate struct {
	On          bool
	Brightness  int
	Temperature int
	R, G, B     int

	// HasRGB marks frames that carry color bytes. Unsolicited 0x43 structs
	// do not; applying them must not zero a color previously set.
	HasRGB bool

	// Online/HasOnline carry the trailing availability byte where the wire
	// form has one. Frames without it are implicitly online reports.
	Online    bool
	HasOnline bool
}

// ApplyResult describes what a device status apply changed. The reconcile
// path uses it to decide which MQTT topics to publish and whether a journal
// row is due.
type ApplyResult struct {
	// Device is the snapshot after the apply.
	Device Device

	// Prior is the state before the apply, nil on the first report ever
	// seen for this device.
	Prior *StateRecord

	// Applied is true when state fields were written. Offline reports only
	// touch the hysteresis counter, so Applied is false for them.
	Applied bool

	// OnlineChanged is true when availability flipped in either direction.
	OnlineChanged bool
}

// GroupApplyResult is ApplyResult for a room group that reported its own
// state over the mesh.
type GroupApplyResult struct {
	Group         Group
	Prior         *StateRecord
	Applied       bool
	OnlineChanged bool
}

// ApplyDeviceStatus applies one status report to a device.
//
// Offline reports (HasOnline && !Online) increment the hysteresis counter
// and flip availability only at the threshold; they never write state.
// Online reports reset the counter, write on/brightness/temperature, and
// write color only for RGB frames (temperature > 100 with color bytes), so
// a white report keeps the last color intact.
//
// Returns:
//   - ApplyResult: post-apply snapshot and change flags
//   - error: ErrDeviceNotFound if the ID is not a configured device
func (r *Registry) ApplyDeviceStatus(id int, u StatusUpdate) (ApplyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ApplyResult{}, ErrDeviceNotFound
	}

	var res ApplyResult
	if d.seen {
		rec := d.Record()
		res.Prior = &rec
	}

	if u.HasOnline && !u.Online {
		d.offlineCount++
		if d.Online && d.offlineCount >= offlineThreshold {
			d.Online = false
			res.OnlineChanged = true
		}
		res.Device = *d
		return res, nil
	}

	d.offlineCount = 0
	if !d.Online {
		d.Online = true
		res.OnlineChanged = true
	}
	d.On = u.On
	d.Brightness = u.Brightness
	d.Temperature = u.Temperature
	if u.HasRGB && u.Temperature > 100 {
		d.R, d.G, d.B = u.R, u.G, u.B
	}
	d.seen = true
	res.Applied = true
	res.Device = *d
	return res, nil
}

// ApplyGroupStatus applies one status report to a room group. Groups follow
// the same hysteresis and write-through rules as devices. Subgroups never
// report their own state; callers should route those IDs here anyway and
// treat ErrGroupNotFound / a subgroup hit as a config problem.
func (r *Registry) ApplyGroupStatus(id int, u StatusUpdate) (GroupApplyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return GroupApplyResult{}, ErrGroupNotFound
	}

	var res GroupApplyResult
	if g.seen {
		rec := g.Record()
		res.Prior = &rec
	}

	if u.HasOnline && !u.Online {
		g.offlineCount++
		if g.Online && g.offlineCount >= offlineThreshold {
			g.Online = false
			res.OnlineChanged = true
		}
		res.Group = g.copyValue()
		return res, nil
	}

	g.offlineCount = 0
	if !g.Online {
		g.Online = true
		res.OnlineChanged = true
	}
	g.On = u.On
	g.Brightness = u.Brightness
	g.Temperature = u.Temperature
	if u.HasRGB && u.Temperature > 100 {
		g.R, g.G, g.B = u.R, u.G, u.B
	}
	g.seen = true
	res.Applied = true
	res.Group = g.copyValue()
	return res, nil
}

// ApplyStatus routes a status report by ID: devices first, then room
// groups (both live in one 16-bit space). Exactly one of the results is
// populated. ErrUnknownTarget means the ID is in neither table.
func (r *Registry) ApplyStatus(id int, u StatusUpdate) (ApplyResult, GroupApplyResult, error) {
	res, err := r.ApplyDeviceStatus(id, u)
	if err == nil {
		return res, GroupApplyResult{}, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return ApplyResult{}, GroupApplyResult{}, err
	}
	gres, gerr := r.ApplyGroupStatus(id, u)
	if gerr == nil {
		return ApplyResult{}, gres, nil
	}
	return ApplyResult{}, GroupApplyResult{}, ErrUnknownTarget
}

// AggregateSubgroup recomputes a subgroup's state from its members and
// stores it:
//
//   - online: any member online
//   - on: any online member on
//   - brightness, temperature: mean over online members, rounded
//
// Color is not aggregated; a mean of RGB channels is meaningless. Returns
// the post-aggregation snapshot, or false when the ID is not a subgroup.
func (r *Registry) AggregateSubgroup(id int) (Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok || !g.Subgroup {
		return Group{}, false
	}

	online := 0
	anyOn := false
	briSum := 0
	tempSum := 0
	for _, mid := range g.Members {
		d, ok := r.devices[mid]
		if !ok || !d.Online {
			continue
		}
		online++
		if d.On {
			anyOn = true
		}
		briSum += d.Brightness
		tempSum += d.Temperature
	}

	g.Online = online > 0
	if online > 0 {
		g.On = anyOn
		g.Brightness = (briSum + online/2) / online
		g.Temperature = (tempSum + online/2) / online
	} else {
		g.On = false
	}
	return g.copyValue(), true
}
