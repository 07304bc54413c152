package wirechat

import (
	"slices"
	"sync"
)

// Rooms tracks which conversations the client wants to be subscribed to.
//
// active holds conversations the server has been (or is being) told about
// and survives reconnects until left. pending holds joins requested while
// there was no connection. The two sets are disjoint.
type Rooms struct {
	mu        sync.Mutex
	active    map[string]struct{}
	pending   map[string]struct{}
	connected bool
	emit      func(Inbound)
}

func newRooms(emit func(Inbound)) *Rooms {
	return &Rooms{
		active:  make(map[string]struct{}),
		pending: make(map[string]struct{}),
		emit:    emit,
	}
}

// Join subscribes to a conversation, or queues the subscription until the
// next connection.
func (r *Rooms) Join(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[conversationID]; ok {
		return
	}
	if !r.connected {
		r.pending[conversationID] = struct{}{}
		return
	}
	r.active[conversationID] = struct{}{}
	r.emit(joinFrame(conversationID))
}

// Leave forgets a conversation. Leaving an unknown conversation is a no-op.
func (r *Rooms) Leave(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, wasActive := r.active[conversationID]
	delete(r.active, conversationID)
	delete(r.pending, conversationID)
	if wasActive && r.connected {
		r.emit(Inbound{Type: inboundLeave, Data: ConversationPayload{ConversationID: conversationID}})
	}
}

// Active returns the active conversations in sorted order.
func (r *Rooms) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.active)
}

// Pending returns the conversations waiting for a connection in sorted order.
func (r *Rooms) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.pending)
}

// markConnected moves every pending conversation into active and returns
// one subscribe frame per active conversation. The caller writes them
// before reporting the connection as usable.
func (r *Rooms) markConnected() []Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.pending {
		r.active[id] = struct{}{}
	}
	clear(r.pending)
	r.connected = true

	ids := sortedKeys(r.active)
	frames := make([]Inbound, 0, len(ids))
	for _, id := range ids {
		frames = append(frames, joinFrame(id))
	}
	return frames
}

func (r *Rooms) markDisconnected() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

func joinFrame(conversationID string) Inbound {
	return Inbound{Type: inboundJoin, Data: ConversationPayload{ConversationID: conversationID}}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
