package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vovakirdan/wirechat-sync/wirechat"
	"github.com/vovakirdan/wirechat-sync/wirechat/sealbox"
)

// view prints reconciler snapshots. Sealed content is opened for display
// when a passphrase is set.
type view struct {
	mu         sync.Mutex
	w          io.Writer
	self       string
	passphrase string
	opened     map[string]string
}

func newView(w io.Writer, self, passphrase string) *view {
	return &view{w: w, self: self, passphrase: passphrase, opened: make(map[string]string)}
}

func (v *view) status(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "-- "+format+"\n", args...)
}

// failure reports a command error. Connection errors mean the command
// can be retried once the client is back online.
func (v *view) failure(err error) {
	if wirechat.IsConnectionError(err) {
		v.status("offline, try again later: %v", err)
		return
	}
	v.status("%v", err)
}

func (v *view) show(m wirechat.OptimisticMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, v.format(m))
}

func (v *view) format(m wirechat.OptimisticMessage) string {
	author := m.AuthorID
	if author == "" || author == v.self {
		author = "me"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.State, author, v.text(m.Payload))
	if m.ServerID != "" {
		line += " (" + m.ServerID + ")"
	}
	if m.Err != nil {
		line += " ! " + m.Err.Error()
	}
	return line
}

// text opens sealed payloads once per ciphertext.
func (v *view) text(payload string) string {
	if v.passphrase == "" || !sealbox.IsSealed(payload) {
		return payload
	}
	if s, ok := v.opened[payload]; ok {
		return s
	}
	s := "<sealed>"
	if pt, err := sealbox.Open(payload, v.passphrase); err == nil {
		s = string(pt)
	}
	v.opened[payload] = s
	return s
}

// sender is the part of wirechat.Client a command line needs.
type sender interface {
	MarkRead(conversationID, serverID string) error
	StartTyping(conversationID string) error
}

// handleLine runs one input line. It reports true when the user quits.
func handleLine(c sender, rec *wirechat.Reconciler, v *view, room, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/typing":
		return false, c.StartTyping(room)
	case line == "/list":
		for _, m := range rec.Messages(room) {
			v.show(m)
		}
		return false, nil
	case strings.HasPrefix(line, "/read "):
		return false, c.MarkRead(room, strings.TrimSpace(strings.TrimPrefix(line, "/read ")))
	}

	payload := line
	if v.passphrase != "" {
		sealed, err := sealbox.Seal([]byte(line), v.passphrase)
		if err != nil {
			return false, err
		}
		payload = sealed
	}
	rec.BeginSend(room, payload, "")
	return false, nil
}
