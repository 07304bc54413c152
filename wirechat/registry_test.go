package wirechat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatchOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	first := NewListener(func(Event) { calls = append(calls, "first") })
	second := NewListener(func(Event) { calls = append(calls, "second") })
	r.Subscribe(KindUserOnline, first)
	r.Subscribe(KindUserOnline, second)
	r.Subscribe(KindUserOffline, NewListener(func(Event) { calls = append(calls, "offline") }))

	r.Dispatch(UserOnline{UserID: "bob"})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRegistryDuplicateRegistrationFiresTwice(t *testing.T) {
	r := NewRegistry()
	n := 0
	l := NewListener(func(Event) { n++ })
	r.Subscribe(KindUserOnline, l)
	r.Subscribe(KindUserOnline, l)

	r.Dispatch(UserOnline{})
	assert.Equal(t, 2, n)

	r.Unsubscribe(KindUserOnline, l)
	assert.Equal(t, 1, r.Len(KindUserOnline))
	r.Dispatch(UserOnline{})
	assert.Equal(t, 3, n)
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewRegistry()
	var calls []string
	a := NewListener(func(Event) { calls = append(calls, "a") })
	b := NewListener(func(Event) { calls = append(calls, "b") })
	r.Subscribe(KindTypingStarted, a)
	r.Subscribe(KindTypingStarted, b)

	r.Unsubscribe(KindTypingStarted, a)
	r.Unsubscribe(KindTypingStarted, NewListener(func(Event) {}))
	r.Unsubscribe(KindUserOnline, b)

	r.Dispatch(TypingStarted{})
	assert.Equal(t, []string{"b"}, calls)
}

func TestRegistryIsolatesPanics(t *testing.T) {
	r := NewRegistry()
	var reported []EventKind
	r.SetPanicHandler(func(kind EventKind, err error) {
		require.Error(t, err)
		reported = append(reported, kind)
	})

	ran := false
	r.Subscribe(KindMessageDelivered, NewListener(func(Event) { panic("boom") }))
	r.Subscribe(KindMessageDelivered, NewListener(func(Event) { ran = true }))

	assert.NotPanics(t, func() { r.Dispatch(MessageDelivered{ServerID: "s-1"}) })
	assert.True(t, ran)
	assert.Equal(t, []EventKind{KindMessageDelivered}, reported)
}

func TestRegistryTypedListeners(t *testing.T) {
	r := NewRegistry()
	var got MessageRead
	l := On(r, func(ev MessageRead) { got = ev })

	r.Dispatch(MessageRead{ServerID: "s-1", ReaderID: "bob"})
	assert.Equal(t, MessageRead{ServerID: "s-1", ReaderID: "bob"}, got)

	r.Unsubscribe(KindOf[MessageRead](), l)
	assert.Zero(t, r.Len(KindMessageRead))
}

func TestRegistryListenerMayUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry()
	n := 0
	var self *Listener
	self = NewListener(func(Event) {
		n++
		r.Unsubscribe(KindUserOnline, self)
	})
	r.Subscribe(KindUserOnline, self)

	r.Dispatch(UserOnline{})
	r.Dispatch(UserOnline{})
	assert.Equal(t, 1, n)
}
