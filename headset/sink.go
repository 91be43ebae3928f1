package headset

// Sink receives session events. Methods are called one at a time from the
// dispatcher goroutine, never while the session lock is held, so a Sink may
// call back into the Session.
//
// Embed NopSink to implement only the methods you need.
type Sink interface {
	OnDeviceFound(name string, id LinkID)
	OnConnected(role Role)
	OnDisconnected()
	OnConnectFailed(reason string)
	OnSetNotifyReady()
	OnInfo(role Role, kind CharacteristicKind, text string)
	OnWearStatus(status WearingStatus)
	OnSamples(left, right Samples)
	OnBattery(left, right uint8)
	OnAdapterState(state AdapterState)
}

// NopSink ignores every event.
type NopSink struct{}

func (NopSink) OnDeviceFound(string, LinkID) {}
func (NopSink) OnConnected(Role) {}
func (NopSink) OnDisconnected() {}
func (NopSink) OnConnectFailed(string) {}
func (NopSink) OnSetNotifyReady() {}
func (NopSink) OnInfo(Role, CharacteristicKind, string) {}
func (NopSink) OnWearStatus(WearingStatus) {}
func (NopSink) OnSamples(Samples, Samples) {}
func (NopSink) OnBattery(uint8, uint8) {}
func (NopSink) OnAdapterState(AdapterState) {}

// EventSink adapts a single function into a Sink.
type EventSink func(Event)

func (f EventSink) OnDeviceFound(name string, id LinkID) {
	f(Event{Kind: EventDeviceFound, Name: name, ID: id})
}

func (f EventSink) OnConnected(role Role) {
	f(Event{Kind: EventConnected, Role: role})
}

func (f EventSink) OnDisconnected() {
	f(Event{Kind: EventDisconnected})
}

func (f EventSink) OnConnectFailed(reason string) {
	f(Event{Kind: EventConnectFailed, Reason: reason})
}

func (f EventSink) OnSetNotifyReady() {
	f(Event{Kind: EventSetNotifyReady})
}

func (f EventSink) OnInfo(role Role, kind CharacteristicKind, text string) {
	f(Event{Kind: EventInfo, Role: role, InfoKind: kind, Text: text})
}

func (f EventSink) OnWearStatus(status WearingStatus) {
	f(Event{Kind: EventWearStatus, Status: status})
}

func (f EventSink) OnSamples(left, right Samples) {
	f(Event{Kind: EventSamples, Left: left, Right: right})
}

func (f EventSink) OnBattery(left, right uint8) {
	f(Event{Kind: EventBattery, LeftBattery: left, RightBattery: right})
}

func (f EventSink) OnAdapterState(state AdapterState) {
	f(Event{Kind: EventAdapterState, State: state})
}

// Tee fans every event out to each sink in order. Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	return EventSink(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				deliver(s, e)
			}
		}
	})
}

// deliver invokes the Sink method matching e.Kind.
func deliver(s Sink, e Event) {
	if f, ok := s.(EventSink); ok {
		if f != nil {
			f(e)
		}
		return
	}
	switch e.Kind {
	case EventDeviceFound:
		s.OnDeviceFound(e.Name, e.ID)
	case EventConnected:
		s.OnConnected(e.Role)
	case EventDisconnected:
		s.OnDisconnected()
	case EventConnectFailed:
		s.OnConnectFailed(e.Reason)
	case EventSetNotifyReady:
		s.OnSetNotifyReady()
	case EventInfo:
		s.OnInfo(e.Role, e.InfoKind, e.Text)
	case EventWearStatus:
		s.OnWearStatus(e.Status)
	case EventSamples:
		s.OnSamples(e.Left, e.Right)
	case EventBattery:
		s.OnBattery(e.LeftBattery, e.RightBattery)
	case EventAdapterState:
		s.OnAdapterState(e.State)
	}
}

var (
	_ Sink = NopSink{}
	_ Sink = EventSink(nil)
)
