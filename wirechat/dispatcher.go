package wirechat

// decodeEvent turns an "event" frame into its typed payload.
func decodeEvent(conn Conn, out Outbound) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch out.Event {
	case KindMessageReceived:
		var e MessageReceived
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindMessageDelivered:
		var e MessageDelivered
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindMessageRead:
		var e MessageRead
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindTypingStarted:
		var e TypingStarted
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindTypingStopped:
		var e TypingStopped
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindUserOnline:
		var e UserOnline
		err = conn.Decode(out.Data, &e)
		ev = e
	case KindUserOffline:
		var e UserOffline
		err = conn.Decode(out.Data, &e)
		ev = e
	default:
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(ErrorSerialization, "failed to unmarshal "+string(out.Event)+" event", err)
	}
	return ev, nil
}

// route translates one inbound frame into one typed event and dispatches
// it. It runs on the read loop, so events keep transport order.
func (c *Client) route(conn Conn, out Outbound) {
	switch out.Type {
	case outboundEvent:
		ev, err := decodeEvent(conn, out)
		if err != nil {
			c.logger.Warn("dropping undecodable event", map[string]any{"event": string(out.Event), "error": err.Error()})
			c.listeners.Dispatch(ErrorOccurred{Err: err})
			return
		}
		if ev == nil {
			c.logger.Debug("ignoring unknown event", map[string]any{"event": string(out.Event)})
			return
		}
		c.listeners.Dispatch(ev)
	case outboundAck:
		var ack SendAcked
		if err := conn.Decode(out.Data, &ack); err != nil {
			werr := WrapError(ErrorSerialization, "failed to unmarshal ack", err)
			c.logger.Warn("dropping undecodable ack", map[string]any{"error": err.Error()})
			c.listeners.Dispatch(ErrorOccurred{Err: werr})
			return
		}
		c.listeners.Dispatch(ack)
	case outboundError:
		if out.Error == nil {
			return
		}
		werr := FromProtocolError(out.Error)
		if out.Error.Ref != "" {
			c.listeners.Dispatch(SendRejected{LocalID: out.Error.Ref, Err: werr})
			return
		}
		c.listeners.Dispatch(ErrorOccurred{Err: werr})
	default:
		c.logger.Debug("ignoring frame", map[string]any{"type": out.Type})
	}
}
