// Package aggregate merges the per-earpiece status, sample and battery
// streams into combined pair events.
//
// Each data kind is tracked independently. The first role to report after a
// reset (or Resync) only stores its value; every update from the other role
// emits the pair built from both latest values, while further updates of the
// first role only refresh what is stored. In single-role mode every update emits, with
// the absent side left zero.
//
// An Aggregator is not safe for concurrent use.
package aggregate

import (
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

// slot holds the last value of one data kind for both roles.
type slot[T any] struct {
	values  [2]T
	have    [2]bool
	first   device.Role
	started bool
}

// update stores v for role and reports whether a pair should be emitted.
func (s *slot[T]) update(role device.Role, v T, single bool) (T, T, bool) {
	s.values[role] = v
	s.have[role] = true

	if single {
		return s.values[device.Left], s.values[device.Right], true
	}

	if !s.started {
		s.first = role
		s.started = true
	}
	if role == s.first || !s.have[role.Other()] {
		var zero T
		return zero, zero, false
	}
	return s.values[device.Left], s.values[device.Right], true
}

func (s *slot[T]) reset() {
	*s = slot[T]{}
}

// resync keeps the stored values but forgets which role reported first.
func (s *slot[T]) resync() {
	s.started = false
}

// Aggregator holds the last-seen per-role values.
type Aggregator struct {
	single bool

	status  slot[uint8]
	samples slot[packet.Samples]
	battery slot[uint8]
}

// New returns an aggregator for the given number of roles (1 or 2).
func New(roles int) *Aggregator {
	return &Aggregator{single: roles == 1}
}

// Single reports whether the aggregator runs in single-role mode.
func (a *Aggregator) Single() bool {
	return a.single
}

// OnStatus records a raw status code. In pair mode the combined status is the
// table lookup; in single-role mode it is the raw code clamped.
func (a *Aggregator) OnStatus(role device.Role, raw uint8) (WearingStatus, bool) {
	if !role.Valid() {
		return 0, false
	}
	l, r, ok := a.status.update(role, raw, a.single)
	if !ok {
		return 0, false
	}
	if a.single {
		return StatusFromCode(raw), true
	}
	return CombineStatus(l, r), true
}

// OnSamples records a sample block.
func (a *Aggregator) OnSamples(role device.Role, s packet.Samples) (left, right packet.Samples, ok bool) {
	if !role.Valid() {
		return left, right, false
	}
	return a.samples.update(role, s, a.single)
}

// OnBattery records a battery percentage.
func (a *Aggregator) OnBattery(role device.Role, pct uint8) (left, right uint8, ok bool) {
	if !role.Valid() {
		return 0, 0, false
	}
	return a.battery.update(role, pct, a.single)
}

// Reset clears every stored value.
func (a *Aggregator) Reset() {
	a.status.reset()
	a.samples.reset()
	a.battery.reset()
}

// Resync makes every data kind wait for a fresh update from both roles
// before emitting again. Stored values are kept and still show in Snapshot.
// The session calls it when one role loses its link.
func (a *Aggregator) Resync() {
	a.status.resync()
	a.samples.resync()
	a.battery.resync()
}

// Snapshot is a copy of the stored values.
type Snapshot struct {
	Status  [2]*uint8
	Battery [2]*uint8
	Samples [2]*packet.Samples
}

// Snapshot returns what is currently held, nil where a side never reported.
func (a *Aggregator) Snapshot() Snapshot {
	var snap Snapshot
	for _, role := range device.Roles {
		if a.status.have[role] {
			v := a.status.values[role]
			snap.Status[role] = &v
		}
		if a.battery.have[role] {
			v := a.battery.values[role]
			snap.Battery[role] = &v
		}
		if a.samples.have[role] {
			v := a.samples.values[role]
			snap.Samples[role] = &v
		}
	}
	return snap
}
