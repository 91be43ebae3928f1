package headset

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/packet"
)

// linkHandler receives adapter callbacks for a Session. State changes happen
// under the session lock; adapter requests they trigger are issued after it
// is released.
type linkHandler struct {
	device.NopHandler
	s *Session
}

// lookup resolves id under the lock. Unknown links are logged and dropped.
func (h *linkHandler) lookup(id LinkID, what string) (Role, *binding, bool) {
	role, b, ok := h.s.table.roleOf(id)
	if !ok {
		h.s.logger.WithFields(logrus.Fields{"link": id, "callback": what}).Debug("Ignoring callback for unbound link")
	}
	return role, b, ok
}

func (h *linkHandler) OnAdapterState(state AdapterState) {
	h.s.logger.WithField("state", state).Debug("Adapter state changed")
	h.s.disp.emit(Event{Kind: EventAdapterState, State: state})
}

func (h *linkHandler) OnDeviceFound(adv device.Advertisement) {
	if adv.Name == "" {
		return
	}
	h.s.disp.emit(Event{Kind: EventDeviceFound, Name: adv.Name, ID: adv.ID, RSSI: adv.RSSI})
}

func (h *linkHandler) OnConnected(id LinkID) {
	s := h.s
	s.mu.Lock()
	role, b, ok := h.lookup(id, "connected")
	if !ok {
		s.mu.Unlock()
		return
	}
	b.state = StateDiscovering
	s.disp.emit(Event{Kind: EventConnected, Role: role})
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{"role": role, "link": id})
	log.Info("Connected, discovering characteristics")
	if err := s.adapter.DiscoverCharacteristics(id, device.Services()); err != nil {
		log.WithError(err).Warn("Characteristic discovery request failed")
	}
}

func (h *linkHandler) OnConnectFailed(id LinkID, err error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, _, ok := h.lookup(id, "connect_failed")
	if !ok {
		return
	}
	reason := "connect failed"
	if err != nil {
		reason = err.Error()
	}
	s.table.unbind(role)
	s.logger.WithFields(logrus.Fields{"role": role, "link": id}).WithError(err).Warn("Connect failed")
	s.disp.emit(Event{Kind: EventConnectFailed, Reason: reason})
}

// OnDisconnected handles link loss of one role. The aggregator keeps its
// values, which are reset only by Session.Disconnect, but waits for both
// roles to report again before emitting.
func (h *linkHandler) OnDisconnected(id LinkID, err error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, _, ok := h.lookup(id, "disconnected")
	if !ok {
		return
	}
	s.table.unbind(role)
	s.agg.Resync()
	log := s.logger.WithFields(logrus.Fields{"role": role, "link": id})
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("Disconnected")
	s.disp.emit(Event{Kind: EventDisconnected})
}

func (h *linkHandler) OnCharacteristicsDiscovered(id LinkID, chars []device.Handle) {
	s := h.s
	s.mu.Lock()
	role, b, ok := h.lookup(id, "characteristics_discovered")
	if !ok {
		s.mu.Unlock()
		return
	}
	log := s.logger.WithFields(logrus.Fields{"role": role, "link": id})

	var reads, subs []device.Handle
	for _, c := range chars {
		if c == nil {
			continue
		}
		kind := device.KindForUUID(c.UUID())
		if kind == device.KindUnknown {
			log.WithField("uuid", c.UUID()).Debug("Skipping characteristic outside the profile")
			continue
		}
		b.chars.Set(kind, c)
		if isRead(kind) && !b.requested[kind] {
			b.requested[kind] = true
			reads = append(reads, c)
		}
	}

	if b.state == StateDiscovering && b.hasAll(device.MandatoryKinds) {
		b.state = StateSubscribing
		for _, kind := range device.SubscribeKinds {
			c, _ := b.handle(kind)
			b.requested[kind] = true
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()

	log.WithField("count", len(chars)).Debug("Characteristics discovered")
	for _, c := range reads {
		if err := s.adapter.Read(id, c); err != nil {
			log.WithError(err).WithField("uuid", c.UUID()).Warn("Read request failed")
		}
	}
	for _, c := range subs {
		if err := s.adapter.Subscribe(id, c); err != nil {
			log.WithError(err).WithField("uuid", c.UUID()).Warn("Subscribe request failed")
		}
	}
}

func (h *linkHandler) OnDiscoveryFailed(id LinkID, err error) {
	s := h.s
	s.mu.Lock()
	role, _, ok := h.lookup(id, "discovery_failed")
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.WithFields(logrus.Fields{"role": role, "link": id}).WithError(err).Warn("Discovery failed")
}

func (h *linkHandler) OnSubscribed(id LinkID, c device.Handle, err error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, b, ok := h.lookup(id, "subscribed")
	if !ok || c == nil {
		return
	}
	kind := device.KindForUUID(c.UUID())
	log := s.logger.WithFields(logrus.Fields{"role": role, "link": id, "kind": kind})
	if err != nil {
		log.WithError(err).Warn("Subscription failed")
		return
	}
	b.subscribed[kind] = true
	log.Debug("Subscribed")

	if kind == device.KindStream && b.state == StateSubscribing {
		b.state = StateReady
		log.Info("Earpiece ready")
		s.checkReady()
	}
}

func (h *linkHandler) OnValue(id LinkID, c device.Handle, data []byte, err error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, _, ok := h.lookup(id, "value")
	if !ok || c == nil {
		return
	}
	kind := device.KindForUUID(c.UUID())
	log := s.logger.WithFields(logrus.Fields{"role": role, "link": id, "kind": kind})
	if err != nil {
		log.WithError(err).Warn("Value error")
		return
	}

	switch {
	case kind == device.KindStream:
		if !s.allBound() {
			log.Debug("Dropping frame while a role is unbound")
			return
		}
		f, err := packet.DecodeFrame(data)
		if err != nil {
			log.WithError(err).Warn("Dropping stream payload")
			return
		}
		if f.IsTick() {
			if status, ok := s.agg.OnStatus(role, f.Status); ok {
				s.disp.emit(Event{Kind: EventWearStatus, Status: status})
			}
		}
		if l, r, ok := s.agg.OnSamples(role, f.Samples(sideOf(role))); ok {
			s.disp.emit(Event{Kind: EventSamples, Left: l, Right: r})
		}

	case kind == device.KindBattery:
		if !s.allBound() {
			log.Debug("Dropping battery while a role is unbound")
			return
		}
		pct, err := packet.DecodeBattery(data)
		if err != nil {
			log.WithError(err).Warn("Dropping battery payload")
			return
		}
		if l, r, ok := s.agg.OnBattery(role, pct); ok {
			s.disp.emit(Event{Kind: EventBattery, LeftBattery: l, RightBattery: r})
		}

	case kind.IsInfo():
		text, err := packet.DecodeText(data)
		if err != nil {
			log.WithError(err).Warn("Dropping device information")
			return
		}
		s.disp.emit(Event{Kind: EventInfo, Role: role, InfoKind: kind, Text: text})

	default:
		// status and mode values carry nothing the session reports
		log.Trace("Ignoring value")
	}
}

func isRead(kind CharacteristicKind) bool {
	for _, k := range device.ReadKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func sideOf(role Role) packet.Side {
	if role == device.Right {
		return packet.SideRight
	}
	return packet.SideLeft
}

var _ device.Handler = (*linkHandler)(nil)
