package wirechat

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryState is where a message is in its lifecycle. States only move
// forward along Sending -> Sent -> Delivered -> Read; Failed is reachable
// from Sending alone.
type DeliveryState uint8

const (
	DeliveryComposing DeliveryState = iota
	DeliverySending
	DeliverySent
	DeliveryDelivered
	DeliveryRead
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryComposing:
		return "composing"
	case DeliverySending:
		return "sending"
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OptimisticMessage is a snapshot of one message held by a Reconciler.
type OptimisticMessage struct {
	LocalID        string
	ServerID       string // empty until the server acknowledges the send
	ConversationID string
	AuthorID       string
	Payload        string
	Type           string
	ReplyToID      string // not validated
	CreatedAt      time.Time
	Timestamp      time.Time // server time once known, used for ordering
	State          DeliveryState
	Err            error // why the message failed
	Incoming       bool  // received rather than sent from this session
}

// MessageSender hands messages to the transport without blocking.
type MessageSender interface {
	SendMessage(msg OutgoingMessage) error
}

// Reconciler owns the authoritative view of which messages exist and in
// what state. Locally created messages are tracked by local id; receipts
// are matched by server id.
type Reconciler struct {
	sender     MessageSender
	authorID   string
	ackTimeout time.Duration
	logger     Logger
	now        func() time.Time

	mu       sync.Mutex
	byLocal  map[string]*tracked
	byServer map[string]string // server id -> local id
	seq      uint64
	onChange func(OptimisticMessage)
	detach   []func()
}

type tracked struct {
	msg   OptimisticMessage
	seq   uint64
	timer *time.Timer
}

func (t *tracked) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// NewReconciler returns a reconciler that sends through sender on behalf of
// authorID. A message still unacknowledged after ackTimeout fails; zero
// disables the timeout.
func NewReconciler(sender MessageSender, authorID string, ackTimeout time.Duration) *Reconciler {
	return &Reconciler{
		sender:     sender,
		authorID:   authorID,
		ackTimeout: ackTimeout,
		logger:     NewLogrusLogger(nil),
		now:        time.Now,
		byLocal:    make(map[string]*tracked),
		byServer:   make(map[string]string),
	}
}

// NewReconciler returns a reconciler sending through c and fed by c's
// registry.
func (c *Client) NewReconciler() *Reconciler {
	r := NewReconciler(c, c.cfg.User, c.cfg.AckTimeout)
	r.SetLogger(c.logger)
	r.Attach(c.listeners)
	return r
}

// SetLogger overrides logger (optional).
func (r *Reconciler) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// OnChange registers the callback told about every state change.
func (r *Reconciler) OnChange(fn func(OptimisticMessage)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Attach feeds the reconciler from reg until Close.
func (r *Reconciler) Attach(reg *Registry) {
	acked := On(reg, func(ev SendAcked) { r.OnSendAck(ev.LocalID, ev.ServerID, ev.Time()) })
	rejected := On(reg, func(ev SendRejected) {
		var cause error = ErrRejected
		switch {
		case ev.Err == nil:
		case IsProtocolError(ev.Err):
			cause = WrapError(ErrorRejected, "send rejected", ev.Err)
		default:
			// Never reached the server, e.g. the reconnect gave up.
			cause = ev.Err
		}
		r.OnSendFailure(ev.LocalID, cause)
	})
	delivered := On(reg, func(ev MessageDelivered) { r.OnDeliveryReceipt(ev.ServerID) })
	read := On(reg, func(ev MessageRead) { r.OnReadReceipt(ev.ServerID) })
	received := On(reg, func(ev MessageReceived) { r.OnMessageReceived(ev) })

	r.mu.Lock()
	r.detach = append(r.detach, func() {
		reg.Unsubscribe(KindSendAcked, acked)
		reg.Unsubscribe(KindSendRejected, rejected)
		reg.Unsubscribe(KindMessageDelivered, delivered)
		reg.Unsubscribe(KindMessageRead, read)
		reg.Unsubscribe(KindMessageReceived, received)
	})
	r.mu.Unlock()
}

// Close detaches from registries and stops ack timers.
func (r *Reconciler) Close() {
	r.mu.Lock()
	detach := r.detach
	r.detach = nil
	for _, t := range r.byLocal {
		t.stopTimer()
	}
	r.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}

// BeginSend records a new message, hands it to the sender and returns its
// local id at once. If the sender refuses it the message is already Failed
// when BeginSend returns.
func (r *Reconciler) BeginSend(conversationID, payload, replyToID string) string {
	now := r.now()
	localID := uuid.NewString()
	t := &tracked{msg: OptimisticMessage{
		LocalID:        localID,
		ConversationID: conversationID,
		AuthorID:       r.authorID,
		Payload:        payload,
		Type:           "text",
		ReplyToID:      replyToID,
		CreatedAt:      now,
		Timestamp:      now,
		State:          DeliveryComposing,
	}}

	r.mu.Lock()
	r.seq++
	t.seq = r.seq
	t.msg.State = DeliverySending
	r.byLocal[localID] = t
	if r.ackTimeout > 0 {
		t.timer = time.AfterFunc(r.ackTimeout, func() {
			r.OnSendFailure(localID, WrapError(ErrorTimeout, ErrSendTimeout.Message, nil))
		})
	}
	snap, onChange := t.msg, r.onChange
	r.mu.Unlock()
	notify(onChange, snap)

	err := r.sender.SendMessage(OutgoingMessage{
		ConversationID: conversationID,
		LocalID:        localID,
		Content:        payload,
		Type:           snap.Type,
		ReplyTo:        replyToID,
	})
	if err != nil {
		r.OnSendFailure(localID, err)
	}
	return localID
}

// OnSendAck moves a Sending message to Sent, attaches its server id and
// adopts the server timestamp. Acks for unknown local ids are dropped.
func (r *Reconciler) OnSendAck(localID, serverID string, serverTime time.Time) {
	r.mu.Lock()
	t, ok := r.byLocal[localID]
	if !ok || t.msg.State != DeliverySending {
		r.mu.Unlock()
		r.logger.Debug("dropping ack", map[string]any{"local_id": localID, "server_id": serverID, "known": ok})
		return
	}
	t.stopTimer()
	next := DeliverySent
	// The broadcast copy of this message may have arrived before the ack,
	// and receipts may already have moved it past Sent.
	if other, dup := r.byServer[serverID]; dup && other != localID {
		if cp, ok := r.byLocal[other]; ok && cp.msg.State > next && cp.msg.State != DeliveryFailed {
			next = cp.msg.State
		}
		delete(r.byLocal, other)
	}
	t.msg.ServerID = serverID
	t.msg.Timestamp = serverTime
	t.msg.State = next
	r.byServer[serverID] = localID
	snap, onChange := t.msg, r.onChange
	r.mu.Unlock()
	notify(onChange, snap)
}

// OnSendFailure fails a message that is still Sending. Failures for
// messages already acknowledged are meaningless and dropped.
func (r *Reconciler) OnSendFailure(localID string, reason error) {
	r.mu.Lock()
	t, ok := r.byLocal[localID]
	if !ok || t.msg.State != DeliverySending {
		r.mu.Unlock()
		r.logger.Debug("dropping send failure", map[string]any{"local_id": localID, "known": ok})
		return
	}
	t.stopTimer()
	t.msg.State = DeliveryFailed
	t.msg.Err = reason
	snap, onChange := t.msg, r.onChange
	r.mu.Unlock()
	r.logger.Info("message failed", map[string]any{"local_id": localID, "error": errString(reason)})
	notify(onChange, snap)
}

// OnDeliveryReceipt moves a Sent message to Delivered.
func (r *Reconciler) OnDeliveryReceipt(serverID string) {
	r.advance(serverID, DeliveryDelivered)
}

// OnReadReceipt moves a Sent or Delivered message to Read.
func (r *Reconciler) OnReadReceipt(serverID string) {
	r.advance(serverID, DeliveryRead)
}

// advance applies a receipt. Receipts never move a message backwards and
// never touch one that has not been acknowledged.
func (r *Reconciler) advance(serverID string, next DeliveryState) {
	r.mu.Lock()
	entry, ok := r.byLocal[r.byServer[serverID]]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("dropping receipt for unknown message", map[string]any{"server_id": serverID, "state": next.String()})
		return
	}
	cur := entry.msg.State
	if cur < DeliverySent || cur >= next || cur == DeliveryFailed {
		r.mu.Unlock()
		return
	}
	entry.msg.State = next
	snap, onChange := entry.msg, r.onChange
	r.mu.Unlock()
	notify(onChange, snap)
}

// OnMessageReceived adds a server message to the view. The author's own
// echo carrying a local id acknowledges that message instead, and a server
// id already present is never added twice.
func (r *Reconciler) OnMessageReceived(ev MessageReceived) {
	if ev.ServerID == "" {
		return
	}
	if ev.LocalID != "" {
		r.mu.Lock()
		_, mine := r.byLocal[ev.LocalID]
		r.mu.Unlock()
		if mine {
			r.OnSendAck(ev.LocalID, ev.ServerID, ev.Time())
			return
		}
	}

	state := DeliveryDelivered
	if ev.AuthorID == r.authorID {
		state = DeliverySent
	}
	r.mu.Lock()
	if _, dup := r.byServer[ev.ServerID]; dup {
		r.mu.Unlock()
		return
	}
	r.seq++
	localID := uuid.NewString()
	t := &tracked{seq: r.seq, msg: OptimisticMessage{
		LocalID:        localID,
		ServerID:       ev.ServerID,
		ConversationID: ev.ConversationID,
		AuthorID:       ev.AuthorID,
		Payload:        ev.Content,
		Type:           ev.Type,
		ReplyToID:      ev.ReplyTo,
		CreatedAt:      ev.Time(),
		Timestamp:      ev.Time(),
		State:          state,
		Incoming:       true,
	}}
	r.byLocal[localID] = t
	r.byServer[ev.ServerID] = localID
	snap, onChange := t.msg, r.onChange
	r.mu.Unlock()
	notify(onChange, snap)
}

// Seed loads history, skipping messages already present.
func (r *Reconciler) Seed(history []MessageReceived) {
	for _, ev := range history {
		r.OnMessageReceived(ev)
	}
}

// Remove deletes a message locally. Later events for it are dropped.
func (r *Reconciler) Remove(localID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byLocal[localID]
	if !ok {
		return false
	}
	t.stopTimer()
	delete(r.byLocal, localID)
	if t.msg.ServerID != "" && r.byServer[t.msg.ServerID] == localID {
		delete(r.byServer, t.msg.ServerID)
	}
	return true
}

// Message returns the message with the given local id.
func (r *Reconciler) Message(localID string) (OptimisticMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byLocal[localID]
	if !ok {
		return OptimisticMessage{}, false
	}
	return t.msg, true
}

// MessageByServerID returns the message the server knows as serverID.
func (r *Reconciler) MessageByServerID(serverID string) (OptimisticMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byLocal[r.byServer[serverID]]
	if !ok {
		return OptimisticMessage{}, false
	}
	return t.msg, true
}

// Messages returns the conversation ordered by timestamp, ties broken by
// insertion order.
func (r *Reconciler) Messages(conversationID string) []OptimisticMessage {
	type row struct {
		msg OptimisticMessage
		seq uint64
	}
	r.mu.Lock()
	rows := make([]row, 0, len(r.byLocal))
	for _, t := range r.byLocal {
		if t.msg.ConversationID == conversationID {
			rows = append(rows, row{msg: t.msg, seq: t.seq})
		}
	}
	r.mu.Unlock()

	slices.SortFunc(rows, func(a, b row) int {
		if c := a.msg.Timestamp.Compare(b.msg.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]OptimisticMessage, len(rows))
	for i, rw := range rows {
		out[i] = rw.msg
	}
	return out
}

func notify(fn func(OptimisticMessage), msg OptimisticMessage) {
	if fn != nil {
		fn(msg)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
