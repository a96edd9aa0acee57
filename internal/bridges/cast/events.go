package cast

// Event is a tagged notification emitted by the controller. Callers consume
// events from Controller.Events() instead of registering callbacks; the
// channel is buffered and events are dropped (and counted) rather than
// blocking the protocol goroutines.
type Event interface {
	event()
}

// StateEvent announces a connection state transition.
type StateEvent struct {
	// State is the state entered.
	State ConnectionState
}

// VolumeEvent carries a volume observation extracted from a RECEIVER_STATUS
// message.
type VolumeEvent struct {
	Volume VolumeInfo
}

// MessageEvent carries a raw inbound namespace message, delivered for every
// decoded envelope regardless of whether the bridge handled it itself.
type MessageEvent struct {
	Namespace string
	Payload   string
}

func (StateEvent) event()   {}
func (VolumeEvent) event()  {}
func (MessageEvent) event() {}
