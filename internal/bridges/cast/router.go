package cast

// router classifies inbound envelopes by namespace and message type and
// reacts to the sub-protocols the bridge speaks. It owns no session state;
// its effects flow through the injected functions, which keeps dispatch
// testable without a live controller.
type router struct {
	// reply sends a control message with an auto-assigned request id.
	reply func(namespace, msgType string) error

	// publish emits an event to the controller's event queue.
	publish func(Event)

	// onPong records a liveness acknowledgment.
	onPong func()

	// maxPayload bounds a single inbound payload; larger payloads are
	// dropped as a resource error.
	maxPayload int

	logger Logger
}

// dispatch routes one decoded envelope. It returns true when the remote end
// requested teardown (connection CLOSE), which the receive loop turns into an
// immediate transition to Disconnected.
//
// Protocol errors (malformed JSON, missing type, unknown namespace or type)
// are logged and dropped; they never propagate.
func (r *router) dispatch(env Envelope) bool {
	if r.maxPayload > 0 && len(env.Payload) > r.maxPayload {
		r.logWarn("dropping oversized payload",
			"namespace", env.Namespace,
			"size", len(env.Payload),
			"limit", r.maxPayload,
		)
		return false
	}

	r.publish(MessageEvent{Namespace: env.Namespace, Payload: env.Payload})

	switch env.Namespace {
	case NamespaceHeartbeat:
		return r.dispatchHeartbeat(env)
	case NamespaceConnection:
		return r.dispatchConnection(env)
	case NamespaceReceiver:
		r.dispatchReceiver(env)
	default:
		r.logDebug("unhandled namespace", "namespace", env.Namespace)
	}
	return false
}

func (r *router) dispatchHeartbeat(env Envelope) bool {
	msg, err := parseControlMessage([]byte(env.Payload))
	if err != nil {
		r.logWarn("dropping malformed heartbeat payload", "error", err)
		return false
	}

	switch msg.Type {
	case TypePing:
		if err := r.reply(NamespaceHeartbeat, TypePong); err != nil {
			r.logWarn("pong reply failed", "error", err)
		}
	case TypePong:
		r.onPong()
	default:
		r.logDebug("unhandled heartbeat message", "type", msg.Type)
	}
	return false
}

func (r *router) dispatchConnection(env Envelope) bool {
	msg, err := parseControlMessage([]byte(env.Payload))
	if err != nil {
		r.logWarn("dropping malformed connection payload", "error", err)
		return false
	}

	if msg.Type == TypeClose {
		r.logWarn("receiver closed the virtual connection")
		return true
	}
	r.logDebug("unhandled connection message", "type", msg.Type)
	return false
}

func (r *router) dispatchReceiver(env Envelope) {
	msg, err := parseControlMessage([]byte(env.Payload))
	if err != nil {
		r.logWarn("dropping malformed receiver payload", "error", err)
		return
	}
	if msg.Type != TypeReceiverStatus {
		r.logDebug("unhandled receiver message", "type", msg.Type)
		return
	}

	volume, err := parseReceiverStatus([]byte(env.Payload))
	if err != nil {
		r.logWarn("dropping malformed receiver status", "error", err)
		return
	}
	if volume == nil {
		return
	}
	r.publish(VolumeEvent{Volume: *volume})
}

func (r *router) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *router) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
